// File: internal/ledger/sql.go
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quadfund/reconciler/internal/models"
	"github.com/quadfund/reconciler/pkg/utils"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every ledger
// operation can run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds the per-backend SQL dialect knobs. SQLite uses ?
// placeholders and LastInsertId; PostgreSQL uses $n and RETURNING.
type queries struct {
	dollarBind bool
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (q queries) rebind(query string) string {
	if !q.dollarBind {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

const campaignColumns = `id, slug, title, description, campaign_address, funding_goal,
	token_decimals, status, start_time, end_time, creator_address, treasury_address,
	version, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	var c models.Campaign
	var addr, treasury sql.NullString
	err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Description, &addr, &c.FundingGoal,
		&c.TokenDecimals, &c.Status, &c.StartTime, &c.EndTime, &c.CreatorAddress,
		&treasury, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.CampaignAddress = strPtr(addr)
	c.TreasuryAddress = strPtr(treasury)
	return &c, nil
}

func (q queries) getCampaign(ctx context.Context, db dbtx, id int64) (*models.Campaign, error) {
	row := db.QueryRowContext(ctx,
		q.rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`), id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get campaign", err.Error())
	}
	return c, nil
}

func (q queries) getCampaignBySlug(ctx context.Context, db dbtx, slug string) (*models.Campaign, error) {
	row := db.QueryRowContext(ctx,
		q.rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE slug = ?`), slug)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get campaign by slug", err.Error())
	}
	return c, nil
}

func (q queries) listCampaignsByStatus(ctx context.Context, db dbtx, statuses []models.CampaignStatus) ([]*models.Campaign, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := db.QueryContext(ctx, q.rebind(
		`SELECT `+campaignColumns+` FROM campaigns WHERE status IN (`+placeholders+`) ORDER BY id`), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list campaigns", err.Error())
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan campaign", err.Error())
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// saveCampaign inserts a new row or updates an existing one with an
// optimistic version check. A stale version surfaces as
// CONCURRENT_MODIFICATION and the caller retries the whole command.
func (q queries) saveCampaign(ctx context.Context, db dbtx, c *models.Campaign) error {
	now := time.Now().UTC()
	if c.ID == 0 {
		c.CreatedAt = now
		c.UpdatedAt = now
		id, err := q.insertReturningID(ctx, db, `
			INSERT INTO campaigns (slug, title, description, campaign_address, funding_goal,
				token_decimals, status, start_time, end_time, creator_address, treasury_address,
				version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			c.Slug, c.Title, c.Description, nullStr(c.CampaignAddress), c.FundingGoal,
			c.TokenDecimals, string(c.Status), c.StartTime, c.EndTime, c.CreatorAddress,
			nullStr(c.TreasuryAddress), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert campaign", err.Error())
		}
		c.ID = id
		return nil
	}

	result, err := db.ExecContext(ctx, q.rebind(`
		UPDATE campaigns SET slug = ?, title = ?, description = ?, campaign_address = ?,
			funding_goal = ?, token_decimals = ?, status = ?, start_time = ?, end_time = ?,
			creator_address = ?, treasury_address = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		c.Slug, c.Title, c.Description, nullStr(c.CampaignAddress), c.FundingGoal,
		c.TokenDecimals, string(c.Status), c.StartTime, c.EndTime, c.CreatorAddress,
		nullStr(c.TreasuryAddress), now, c.ID, c.Version)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update campaign", err.Error())
	}
	return q.checkVersioned(result, "campaign", c.ID)
}

const roundColumns = `id, name, pool_id, strategy_address, matching_pool, token_decimals,
	application_start, application_close, start_date, end_date, needs_attention,
	version, created_at, updated_at`

func scanRound(row interface{ Scan(...interface{}) error }) (*models.Round, error) {
	var r models.Round
	var poolID sql.NullString
	err := row.Scan(&r.ID, &r.Name, &poolID, &r.StrategyAddress, &r.MatchingPool,
		&r.TokenDecimals, &r.ApplicationStart, &r.ApplicationClose, &r.StartDate,
		&r.EndDate, &r.NeedsAttention, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.PoolID = strPtr(poolID)
	return &r, nil
}

func (q queries) getRound(ctx context.Context, db dbtx, id int64) (*models.Round, error) {
	row := db.QueryRowContext(ctx,
		q.rebind(`SELECT `+roundColumns+` FROM rounds WHERE id = ?`), id)
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get round", err.Error())
	}
	return r, nil
}

func (q queries) listRounds(ctx context.Context, db dbtx) ([]*models.Round, error) {
	rows, err := db.QueryContext(ctx,
		q.rebind(`SELECT `+roundColumns+` FROM rounds ORDER BY id`))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list rounds", err.Error())
	}
	defer rows.Close()

	var rounds []*models.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan round", err.Error())
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (q queries) saveRound(ctx context.Context, db dbtx, r *models.Round) error {
	now := time.Now().UTC()
	if r.ID == 0 {
		r.CreatedAt = now
		r.UpdatedAt = now
		id, err := q.insertReturningID(ctx, db, `
			INSERT INTO rounds (name, pool_id, strategy_address, matching_pool, token_decimals,
				application_start, application_close, start_date, end_date, needs_attention,
				version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			r.Name, nullStr(r.PoolID), r.StrategyAddress, r.MatchingPool, r.TokenDecimals,
			r.ApplicationStart, r.ApplicationClose, r.StartDate, r.EndDate, r.NeedsAttention,
			r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert round", err.Error())
		}
		r.ID = id
		return nil
	}

	result, err := db.ExecContext(ctx, q.rebind(`
		UPDATE rounds SET name = ?, pool_id = ?, strategy_address = ?, matching_pool = ?,
			token_decimals = ?, application_start = ?, application_close = ?, start_date = ?,
			end_date = ?, needs_attention = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		r.Name, nullStr(r.PoolID), r.StrategyAddress, r.MatchingPool, r.TokenDecimals,
		r.ApplicationStart, r.ApplicationClose, r.StartDate, r.EndDate, r.NeedsAttention,
		now, r.ID, r.Version)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update round", err.Error())
	}
	return q.checkVersioned(result, "round", r.ID)
}

const recipientColumns = `id, round_id, campaign_id, status, recipient_address,
	submitted_by_wallet_address, tx_hash, onchain_recipient_id, reviewed_at,
	needs_attention, version, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*models.RoundCampaign, error) {
	var rc models.RoundCampaign
	var recipientAddr, submittedBy, txHash, onchainID sql.NullString
	var reviewedAt sql.NullTime
	err := row.Scan(&rc.ID, &rc.RoundID, &rc.CampaignID, &rc.Status, &recipientAddr,
		&submittedBy, &txHash, &onchainID, &reviewedAt, &rc.NeedsAttention,
		&rc.Version, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rc.RecipientAddress = strPtr(recipientAddr)
	rc.SubmittedByWalletAddress = strPtr(submittedBy)
	rc.TxHash = strPtr(txHash)
	rc.OnchainRecipientID = strPtr(onchainID)
	rc.ReviewedAt = timePtr(reviewedAt)
	return &rc, nil
}

func (q queries) getRoundCampaign(ctx context.Context, db dbtx, roundID, campaignID int64) (*models.RoundCampaign, error) {
	row := db.QueryRowContext(ctx, q.rebind(
		`SELECT `+recipientColumns+` FROM round_campaigns WHERE round_id = ? AND campaign_id = ?`),
		roundID, campaignID)
	rc, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get round campaign", err.Error())
	}
	return rc, nil
}

func (q queries) listRecipients(ctx context.Context, db dbtx, roundID int64) ([]*models.RoundCampaign, error) {
	rows, err := db.QueryContext(ctx, q.rebind(
		`SELECT `+recipientColumns+` FROM round_campaigns WHERE round_id = ? ORDER BY campaign_id`),
		roundID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list recipients", err.Error())
	}
	defer rows.Close()

	var recipients []*models.RoundCampaign
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan recipient", err.Error())
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

func (q queries) saveRoundCampaign(ctx context.Context, db dbtx, rc *models.RoundCampaign) error {
	now := time.Now().UTC()
	if rc.ID == 0 {
		rc.CreatedAt = now
		rc.UpdatedAt = now
		id, err := q.insertReturningID(ctx, db, `
			INSERT INTO round_campaigns (round_id, campaign_id, status, recipient_address,
				submitted_by_wallet_address, tx_hash, onchain_recipient_id, reviewed_at,
				needs_attention, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			rc.RoundID, rc.CampaignID, string(rc.Status), nullStr(rc.RecipientAddress),
			nullStr(rc.SubmittedByWalletAddress), nullStr(rc.TxHash),
			nullStr(rc.OnchainRecipientID), nullTime(rc.ReviewedAt), rc.NeedsAttention,
			rc.CreatedAt, rc.UpdatedAt)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert round campaign", err.Error())
		}
		rc.ID = id
		return nil
	}

	result, err := db.ExecContext(ctx, q.rebind(`
		UPDATE round_campaigns SET status = ?, recipient_address = ?,
			submitted_by_wallet_address = ?, tx_hash = ?, onchain_recipient_id = ?,
			reviewed_at = ?, needs_attention = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		string(rc.Status), nullStr(rc.RecipientAddress), nullStr(rc.SubmittedByWalletAddress),
		nullStr(rc.TxHash), nullStr(rc.OnchainRecipientID), nullTime(rc.ReviewedAt),
		rc.NeedsAttention, now, rc.ID, rc.Version)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update round campaign", err.Error())
	}
	return q.checkVersioned(result, "round campaign", rc.ID)
}

func (q queries) ensureUser(ctx context.Context, db dbtx, walletAddress string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, q.rebind(
		`SELECT id FROM users WHERE wallet_address = ?`), walletAddress).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to look up user", err.Error())
	}

	id, err = q.insertReturningID(ctx, db, `
		INSERT INTO users (wallet_address, created_at) VALUES (?, ?)`,
		walletAddress, time.Now().UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to create user", err.Error())
	}
	return id, nil
}

const paymentColumns = `id, campaign_id, user_id, amount, token, token_decimals, status,
	transaction_hash, payer_address, is_anonymous, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*models.Payment, error) {
	var p models.Payment
	var txHash sql.NullString
	err := row.Scan(&p.ID, &p.CampaignID, &p.UserID, &p.Amount, &p.Token, &p.TokenDecimals,
		&p.Status, &txHash, &p.PayerAddress, &p.IsAnonymous, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TransactionHash = strPtr(txHash)
	return &p, nil
}

// upsertPayment writes a payment keyed on its transaction hash.
// Re-ingesting the same hash updates the existing row in place and
// never creates a duplicate.
func (q queries) upsertPayment(ctx context.Context, db dbtx, p *models.Payment) (bool, error) {
	now := time.Now().UTC()

	if p.TransactionHash != nil && *p.TransactionHash != "" {
		row := db.QueryRowContext(ctx, q.rebind(
			`SELECT `+paymentColumns+` FROM payments WHERE transaction_hash = ?`),
			*p.TransactionHash)
		existing, err := scanPayment(row)
		if err != nil && err != sql.ErrNoRows {
			return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to look up payment", err.Error())
		}
		if existing != nil {
			_, err := db.ExecContext(ctx, q.rebind(`
				UPDATE payments SET amount = ?, token = ?, token_decimals = ?, status = ?,
					payer_address = ?, is_anonymous = ?, updated_at = ?
				WHERE id = ?`),
				p.Amount, p.Token, p.TokenDecimals, string(p.Status),
				p.PayerAddress, p.IsAnonymous, now, existing.ID)
			if err != nil {
				return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update payment", err.Error())
			}
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = now
			return false, nil
		}
	}

	// Preserve a caller-provided creation time: for reconciled
	// contributions it is the on-chain event time, which the sweep's
	// window queries depend on
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	id, err := q.insertReturningID(ctx, db, `
		INSERT INTO payments (campaign_id, user_id, amount, token, token_decimals, status,
			transaction_hash, payer_address, is_anonymous, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CampaignID, p.UserID, p.Amount, p.Token, p.TokenDecimals, string(p.Status),
		nullStr(p.TransactionHash), p.PayerAddress, p.IsAnonymous, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert payment", err.Error())
	}
	p.ID = id
	return true, nil
}

func (q queries) listConfirmedPayments(ctx context.Context, db dbtx, campaignID int64, from, to time.Time) ([]*models.Payment, error) {
	rows, err := db.QueryContext(ctx, q.rebind(`
		SELECT `+paymentColumns+` FROM payments
		WHERE campaign_id = ? AND status = ? AND created_at >= ? AND created_at <= ?
		ORDER BY id`),
		campaignID, string(models.PaymentStatusConfirmed), from, to)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list payments", err.Error())
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan payment", err.Error())
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (q queries) eventApplied(ctx context.Context, db dbtx, txHash string, logIndex uint) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, q.rebind(
		`SELECT COUNT(*) FROM applied_events WHERE tx_hash = ? AND log_index = ?`),
		txHash, logIndex).Scan(&count)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check applied event", err.Error())
	}
	return count > 0, nil
}

func (q queries) markEventApplied(ctx context.Context, db dbtx, txHash string, logIndex uint, blockNumber uint64) error {
	_, err := db.ExecContext(ctx, q.rebind(`
		INSERT INTO applied_events (tx_hash, log_index, block_number)
		VALUES (?, ?, ?)`),
		txHash, logIndex, blockNumber)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark event applied", err.Error())
	}
	return nil
}

func (q queries) addIntegrityFlag(ctx context.Context, db dbtx, flag *models.IntegrityFlag) error {
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	var roundID, campaignID interface{}
	if flag.RoundID != nil {
		roundID = *flag.RoundID
	}
	if flag.CampaignID != nil {
		campaignID = *flag.CampaignID
	}
	_, err := db.ExecContext(ctx, q.rebind(`
		INSERT INTO integrity_flags (id, round_id, campaign_id, code, detail, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		flag.ID, roundID, campaignID, flag.Code, flag.Detail, flag.Resolved, flag.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to add integrity flag", err.Error())
	}
	return nil
}

func (q queries) listIntegrityFlags(ctx context.Context, db dbtx, unresolvedOnly bool) ([]*models.IntegrityFlag, error) {
	query := `SELECT id, round_id, campaign_id, code, detail, resolved, created_at
		FROM integrity_flags`
	if unresolvedOnly {
		query += ` WHERE resolved = FALSE`
	}
	query += ` ORDER BY created_at`

	rows, err := db.QueryContext(ctx, q.rebind(query))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list integrity flags", err.Error())
	}
	defer rows.Close()

	var flags []*models.IntegrityFlag
	for rows.Next() {
		var f models.IntegrityFlag
		var roundID, campaignID sql.NullInt64
		if err := rows.Scan(&f.ID, &roundID, &campaignID, &f.Code, &f.Detail, &f.Resolved, &f.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan integrity flag", err.Error())
		}
		if roundID.Valid {
			f.RoundID = &roundID.Int64
		}
		if campaignID.Valid {
			f.CampaignID = &campaignID.Int64
		}
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}

func (q queries) saveQuarantinedEvent(ctx context.Context, db dbtx, e *models.QuarantinedEvent) error {
	if e.QuarantinedAt.IsZero() {
		e.QuarantinedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, q.rebind(`
		INSERT INTO quarantined_events (id, tx_hash, log_index, event_type, reason, payload, quarantined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TxHash, e.LogIndex, e.EventType, e.Reason, e.Payload, e.QuarantinedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save quarantined event", err.Error())
	}
	return nil
}

func (q queries) listQuarantinedEvents(ctx context.Context, db dbtx, limit int) ([]*models.QuarantinedEvent, error) {
	rows, err := db.QueryContext(ctx, q.rebind(`
		SELECT id, tx_hash, log_index, event_type, reason, payload, quarantined_at
		FROM quarantined_events ORDER BY quarantined_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list quarantined events", err.Error())
	}
	defer rows.Close()

	var events []*models.QuarantinedEvent
	for rows.Next() {
		var e models.QuarantinedEvent
		if err := rows.Scan(&e.ID, &e.TxHash, &e.LogIndex, &e.EventType, &e.Reason, &e.Payload, &e.QuarantinedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan quarantined event", err.Error())
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (q queries) getStats(ctx context.Context, db dbtx) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM campaigns`, &stats.TotalCampaigns},
		{`SELECT COUNT(*) FROM rounds`, &stats.TotalRounds},
		{`SELECT COUNT(*) FROM payments`, &stats.TotalPayments},
		{`SELECT COUNT(*) FROM round_campaigns`, &stats.TotalRecipients},
		{`SELECT COUNT(*) FROM applied_events`, &stats.AppliedEvents},
		{`SELECT COUNT(*) FROM quarantined_events`, &stats.QuarantinedEvents},
		{`SELECT COUNT(*) FROM integrity_flags WHERE resolved = FALSE`, &stats.UnresolvedFlags},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get stats", err.Error())
		}
	}

	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM applied_events`).Scan(&latest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest block", err.Error())
	}
	if latest.Valid {
		stats.LatestAppliedBlock = uint64(latest.Int64)
	}

	var oldest sql.NullTime
	if err := db.QueryRowContext(ctx, `SELECT MIN(quarantined_at) FROM quarantined_events`).Scan(&oldest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get oldest quarantine", err.Error())
	}
	stats.OldestQuarantine = timePtr(oldest)

	return stats, nil
}

// insertReturningID runs an INSERT and returns the new row id,
// papering over the LastInsertId / RETURNING dialect split
func (q queries) insertReturningID(ctx context.Context, db dbtx, query string, args ...interface{}) (int64, error) {
	if q.dollarBind {
		var id int64
		err := db.QueryRowContext(ctx, q.rebind(query+` RETURNING id`), args...).Scan(&id)
		return id, err
	}
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// checkVersioned turns a zero-row update into a concurrency error
func (q queries) checkVersioned(result sql.Result, kind string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read rows affected", err.Error())
	}
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeConcurrentMod,
			fmt.Sprintf("Stale %s version", kind),
			fmt.Sprintf("id=%d", id))
	}
	return nil
}
