// File: internal/ingest/payload.go
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/internal/money"
	"github.com/quadfund/reconciler/pkg/utils"
)

// payload wraps a raw event payload with typed, validated accessors.
// Feed payloads are JSON-decoded, so numbers usually arrive as float64.
type payload map[string]interface{}

func (p payload) requireString(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", utils.NewAppError(utils.ErrCodeMalformedEvent,
			fmt.Sprintf("Missing field %q", key))
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", utils.NewAppError(utils.ErrCodeMalformedEvent,
			fmt.Sprintf("Field %q must be a non-empty string", key))
	}
	return s, nil
}

func (p payload) optionalString(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func (p payload) optionalBool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func (p payload) requireInt64(key string) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, utils.NewAppError(utils.ErrCodeMalformedEvent,
			fmt.Sprintf("Missing field %q", key))
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, utils.NewAppError(utils.ErrCodeMalformedEvent,
				fmt.Sprintf("Field %q is not an integer", key), n)
		}
		return parsed, nil
	}
	return 0, utils.NewAppError(utils.ErrCodeMalformedEvent,
		fmt.Sprintf("Field %q is not an integer", key))
}

func (p payload) requireAddress(key string) (string, error) {
	s, err := p.requireString(key)
	if err != nil {
		return "", err
	}
	if !utils.IsValidAddress(s) {
		return "", utils.NewAppError(utils.ErrCodeMalformedEvent,
			fmt.Sprintf("Field %q is not a valid address", key), s)
	}
	return utils.NormalizeAddress(s), nil
}

// requireIDs fills the round/campaign targets common to recipient events
func (p payload) requireIDs(cmd *models.Command) error {
	roundID, err := p.requireInt64("roundId")
	if err != nil {
		return err
	}
	campaignID, err := p.requireInt64("campaignId")
	if err != nil {
		return err
	}
	cmd.RoundID = roundID
	cmd.CampaignID = campaignID
	return nil
}

// requireAmount fills amount, token and decimals, rejecting anything
// Money cannot represent exactly
func (p payload) requireAmount(cmd *models.Command) error {
	amount, err := p.requireString("amount")
	if err != nil {
		return err
	}
	decimals, err := p.requireInt64("tokenDecimals")
	if err != nil {
		return err
	}
	if decimals < 0 || decimals > money.MaxDecimals {
		return utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Token decimals out of range", strconv.FormatInt(decimals, 10))
	}
	if _, err := money.Parse(amount, int32(decimals)); err != nil {
		return utils.NewAppError(utils.ErrCodeMalformedEvent,
			"Unparseable amount", amount)
	}

	cmd.Amount = amount
	cmd.TokenDecimals = int32(decimals)
	cmd.Token = p.optionalString("token")
	return nil
}
