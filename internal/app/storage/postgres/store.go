package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jive-live/jive-server/internal/app/domain/account"
	"github.com/jive-live/jive-server/internal/app/domain/chat"
	"github.com/jive-live/jive-server/internal/app/domain/payment"
	"github.com/jive-live/jive-server/internal/app/domain/stream"
	"github.com/jive-live/jive-server/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.FollowStore = (*Store)(nil)
var _ storage.StreamStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// mapErr translates driver-level failures into the shared sentinel errors.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
	}
	return err
}

// wordPattern builds a case-insensitive whole-word regex for the ~* operator.
// The term is escaped so user input cannot alter the pattern.
func wordPattern(term string) string {
	return `\m` + regexp.QuoteMeta(term)
}

// querier is the read surface shared by *sql.DB and *sql.Tx, so the same
// query helpers serve both direct reads and snapshot transactions.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) RegisterAccount(ctx context.Context, acct account.Account, prof account.Profile, passwordHash string, info stream.Info) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, external_auth, stream_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.ID, acct.Username, acct.Email, acct.ExternalAuth, acct.StreamKey, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, mapErr(err, "account")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (account_id, username, name, picture, currently_live, has_streamed, push_subscription, payment_account_id, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, FALSE, '', '', $5)
	`, acct.ID, acct.Username, prof.Name, prof.Picture, now)
	if err != nil {
		return account.Account{}, mapErr(err, "profile")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO passwords (account_id, hash) VALUES ($1, $2)
	`, acct.ID, passwordHash)
	if err != nil {
		return account.Account{}, mapErr(err, "password")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stream_information (account_id, username, title, description, tags, total_views, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, acct.ID, acct.Username, info.Title, info.Description, pq.Array(info.Tags), now)
	if err != nil {
		return account.Account{}, mapErr(err, "stream info")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO email_list (name, email, created_at) VALUES ($1, $2, $3)
	`, prof.Name, acct.Email, now)
	if err != nil {
		return account.Account{}, mapErr(err, "email listing")
	}

	if err := tx.Commit(); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

const accountColumns = `id, username, email, external_auth, stream_key, COALESCE(reset_token, ''), COALESCE(reset_expires, 'epoch'::timestamptz), created_at, updated_at`

func scanAccount(row *sql.Row) (account.Account, error) {
	var acct account.Account
	var resetExpires time.Time
	err := row.Scan(&acct.ID, &acct.Username, &acct.Email, &acct.ExternalAuth, &acct.StreamKey, &acct.ResetToken, &resetExpires, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if resetExpires.Unix() > 0 {
		acct.ResetExpires = resetExpires.UTC()
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE id = $1
	`, id))
	return acct, mapErr(err, "account")
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (account.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE LOWER(username) = LOWER($1)
	`, username))
	return acct, mapErr(err, "account")
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE LOWER(email) = LOWER($1)
	`, email))
	return acct, mapErr(err, "account")
}

func (s *Store) GetAccountByStreamKey(ctx context.Context, key string) (account.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE stream_key = $1
	`, key))
	return acct, mapErr(err, "account")
}

func (s *Store) GetAccountByResetToken(ctx context.Context, token string) (account.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE reset_token = $1 AND reset_token <> ''
	`, token))
	return acct, mapErr(err, "account")
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account, prof account.Profile) (account.Account, account.Profile, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, account.Profile{}, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET username = $2, email = $3, updated_at = $4 WHERE id = $1
	`, acct.ID, acct.Username, acct.Email, now)
	if err != nil {
		return account.Account{}, account.Profile{}, mapErr(err, "account")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, account.Profile{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles SET username = $2, name = $3, picture = $4, updated_at = $5 WHERE account_id = $1
	`, acct.ID, acct.Username, prof.Name, prof.Picture, now)
	if err != nil {
		return account.Account{}, account.Profile{}, mapErr(err, "profile")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stream_information SET username = $2 WHERE account_id = $1
	`, acct.ID, acct.Username)
	if err != nil {
		return account.Account{}, account.Profile{}, mapErr(err, "stream info")
	}

	if err := tx.Commit(); err != nil {
		return account.Account{}, account.Profile{}, err
	}

	updated, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return account.Account{}, account.Profile{}, err
	}
	updatedProf, err := s.GetProfile(ctx, acct.ID)
	if err != nil {
		return account.Account{}, account.Profile{}, err
	}
	return updated, updatedProf, nil
}

const profileColumns = `account_id, username, name, picture, currently_live, has_streamed, push_subscription, payment_account_id, updated_at`

func scanProfileRow(scanner interface{ Scan(...interface{}) error }) (account.Profile, error) {
	var prof account.Profile
	err := scanner.Scan(&prof.AccountID, &prof.Username, &prof.Name, &prof.Picture, &prof.CurrentlyLive, &prof.HasStreamed, &prof.PushSubscription, &prof.PaymentAccountID, &prof.UpdatedAt)
	return prof, err
}

func (s *Store) GetProfile(ctx context.Context, accountID string) (account.Profile, error) {
	prof, err := scanProfileRow(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE account_id = $1
	`, accountID))
	return prof, mapErr(err, "profile")
}

func (s *Store) GetProfileByUsername(ctx context.Context, username string) (account.Profile, error) {
	prof, err := scanProfileRow(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE LOWER(username) = LOWER($1)
	`, username))
	return prof, mapErr(err, "profile")
}

func queryProfiles(ctx context.Context, q querier, query string, args ...interface{}) ([]account.Profile, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Profile
	for rows.Next() {
		prof, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, prof)
	}
	return result, rows.Err()
}

func getProfiles(ctx context.Context, q querier, accountIDs []string) ([]account.Profile, error) {
	return queryProfiles(ctx, q, `
		SELECT `+profileColumns+` FROM profiles WHERE account_id = ANY($1)
	`, pq.Array(accountIDs))
}

func (s *Store) GetProfiles(ctx context.Context, accountIDs []string) ([]account.Profile, error) {
	return getProfiles(ctx, s.db, accountIDs)
}

func listLiveProfiles(ctx context.Context, q querier) ([]account.Profile, error) {
	return queryProfiles(ctx, q, `
		SELECT `+profileColumns+` FROM profiles
		WHERE currently_live
		ORDER BY account_id DESC
	`)
}

func (s *Store) ListLiveProfiles(ctx context.Context) ([]account.Profile, error) {
	return listLiveProfiles(ctx, s.db)
}

func searchProfiles(ctx context.Context, q querier, term string) ([]account.Profile, error) {
	return queryProfiles(ctx, q, `
		SELECT `+profileColumns+` FROM profiles
		WHERE name ~* $1 OR username ~* $1
	`, wordPattern(term))
}

func (s *Store) SearchProfiles(ctx context.Context, term string) ([]account.Profile, error) {
	return searchProfiles(ctx, s.db, term)
}

func (s *Store) UpdatePushSubscription(ctx context.Context, accountID, subscription string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET push_subscription = $2, updated_at = $3 WHERE account_id = $1
	`, accountID, subscription, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) SetPaymentAccountID(ctx context.Context, accountID, paymentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET payment_account_id = $2, updated_at = $3 WHERE account_id = $1
	`, accountID, paymentID, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetPasswordHash(ctx context.Context, accountID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM passwords WHERE account_id = $1
	`, accountID).Scan(&hash)
	return hash, mapErr(err, "password")
}

func (s *Store) UpdatePassword(ctx context.Context, accountID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE passwords SET hash = $2 WHERE account_id = $1
	`, accountID, passwordHash)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("password for %s: %w", accountID, storage.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET reset_token = '', reset_expires = NULL, updated_at = $2 WHERE id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) SetResetToken(ctx context.Context, accountID, token string, expires time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token = $2, reset_expires = $3, updated_at = $4 WHERE id = $1
	`, accountID, token, toNullTime(expires), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

// --- FollowStore ------------------------------------------------------------

func (s *Store) CreateFollow(ctx context.Context, followerID, followedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO followers (follower_id, followed_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (follower_id, followed_id) DO NOTHING
	`, followerID, followedID, time.Now().UTC())
	return mapErr(err, "follow")
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followedID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM followers WHERE follower_id = $1 AND followed_id = $2
	`, followerID, followedID)
	return err
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM followers WHERE follower_id = $1 AND followed_id = $2)
	`, followerID, followedID).Scan(&exists)
	return exists, err
}

func (s *Store) listFollowIDs(ctx context.Context, query, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (s *Store) ListFollowerIDs(ctx context.Context, accountID string) ([]string, error) {
	return s.listFollowIDs(ctx, `
		SELECT follower_id FROM followers WHERE followed_id = $1 ORDER BY created_at
	`, accountID)
}

func (s *Store) ListFollowingIDs(ctx context.Context, accountID string) ([]string, error) {
	return s.listFollowIDs(ctx, `
		SELECT followed_id FROM followers WHERE follower_id = $1 ORDER BY created_at
	`, accountID)
}

// --- StreamStore ------------------------------------------------------------

func (s *Store) StartStream(ctx context.Context, ls stream.Live) (stream.Live, error) {
	if ls.ID == "" {
		ls.ID = uuid.NewString()
	}
	if ls.StartedAt.IsZero() {
		ls.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stream.Live{}, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		UPDATE profiles SET currently_live = TRUE, has_streamed = TRUE, updated_at = $2
		WHERE account_id = $1
		RETURNING username
	`, ls.AccountID, time.Now().UTC()).Scan(&ls.Username)
	if err != nil {
		return stream.Live{}, mapErr(err, "profile")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO live_streams (id, account_id, username, thumbnail, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ls.ID, ls.AccountID, ls.Username, ls.Thumbnail, ls.StartedAt)
	if err != nil {
		return stream.Live{}, mapErr(err, "live stream")
	}

	if err := tx.Commit(); err != nil {
		return stream.Live{}, err
	}
	return ls, nil
}

func (s *Store) StopStream(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE profiles SET currently_live = FALSE, updated_at = $2 WHERE account_id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("profile %s: %w", accountID, storage.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM live_streams WHERE account_id = $1
	`, accountID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const liveColumns = `id, account_id, username, thumbnail, started_at`

func getLiveStream(ctx context.Context, q querier, accountID string) (stream.Live, error) {
	var ls stream.Live
	err := q.QueryRowContext(ctx, `
		SELECT `+liveColumns+` FROM live_streams WHERE account_id = $1
	`, accountID).Scan(&ls.ID, &ls.AccountID, &ls.Username, &ls.Thumbnail, &ls.StartedAt)
	return ls, mapErr(err, "live stream")
}

func (s *Store) GetLiveStream(ctx context.Context, accountID string) (stream.Live, error) {
	return getLiveStream(ctx, s.db, accountID)
}

func listLiveStreams(ctx context.Context, q querier, limit int) ([]stream.Live, error) {
	query := `SELECT ` + liveColumns + ` FROM live_streams ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stream.Live
	for rows.Next() {
		var ls stream.Live
		if err := rows.Scan(&ls.ID, &ls.AccountID, &ls.Username, &ls.Thumbnail, &ls.StartedAt); err != nil {
			return nil, err
		}
		result = append(result, ls)
	}
	return result, rows.Err()
}

func (s *Store) ListLiveStreams(ctx context.Context, limit int) ([]stream.Live, error) {
	return listLiveStreams(ctx, s.db, limit)
}

func (s *Store) ArchiveStream(ctx context.Context, arch stream.Archive) (stream.Archive, error) {
	if arch.ID == "" {
		arch.ID = uuid.NewString()
	}
	arch.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stream.Archive{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archived_streams (id, account_id, username, title, description, tags, views, duration, stream_file, thumbnail, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, arch.ID, arch.AccountID, arch.Username, arch.Title, arch.Description, pq.Array(arch.Tags), arch.Views, arch.Duration, arch.StreamFile, arch.Thumbnail, arch.StartedAt, arch.CreatedAt)
	if err != nil {
		return stream.Archive{}, mapErr(err, "archived stream")
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE stream_information SET total_views = 0, updated_at = $2 WHERE account_id = $1
	`, arch.AccountID, arch.CreatedAt)
	if err != nil {
		return stream.Archive{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return stream.Archive{}, fmt.Errorf("stream info %s: %w", arch.AccountID, storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return stream.Archive{}, err
	}
	return arch, nil
}

const archiveColumns = `id, account_id, username, title, description, tags, views, duration, stream_file, thumbnail, started_at, created_at`

func scanArchiveRow(scanner interface{ Scan(...interface{}) error }) (stream.Archive, error) {
	var arch stream.Archive
	err := scanner.Scan(&arch.ID, &arch.AccountID, &arch.Username, &arch.Title, &arch.Description, pq.Array(&arch.Tags), &arch.Views, &arch.Duration, &arch.StreamFile, &arch.Thumbnail, &arch.StartedAt, &arch.CreatedAt)
	return arch, err
}

func queryArchives(ctx context.Context, q querier, query string, args ...interface{}) ([]stream.Archive, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stream.Archive
	for rows.Next() {
		arch, err := scanArchiveRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, arch)
	}
	return result, rows.Err()
}

func (s *Store) GetArchivedStream(ctx context.Context, accountID, streamID string) (stream.Archive, error) {
	arch, err := scanArchiveRow(s.db.QueryRowContext(ctx, `
		SELECT `+archiveColumns+` FROM archived_streams WHERE id = $1 AND account_id = $2
	`, streamID, accountID))
	return arch, mapErr(err, "archived stream")
}

func (s *Store) ListArchivedStreams(ctx context.Context, accountID string) ([]stream.Archive, error) {
	return queryArchives(ctx, s.db, `
		SELECT `+archiveColumns+` FROM archived_streams
		WHERE account_id = $1
		ORDER BY started_at DESC
	`, accountID)
}

func listLatestArchives(ctx context.Context, q querier) ([]stream.Archive, error) {
	return queryArchives(ctx, q, `
		SELECT `+archiveColumns+` FROM archived_streams a
		WHERE a.started_at = (
			SELECT MAX(b.started_at) FROM archived_streams b WHERE b.account_id = a.account_id
		)
		ORDER BY a.started_at DESC
	`)
}

func (s *Store) ListLatestArchives(ctx context.Context) ([]stream.Archive, error) {
	return listLatestArchives(ctx, s.db)
}

func listRecentArchives(ctx context.Context, q querier, excludeIDs []string, limit int) ([]stream.Archive, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	query := `
		SELECT ` + archiveColumns + ` FROM archived_streams
		WHERE id <> ALL($1)
		ORDER BY started_at DESC`
	args := []interface{}{pq.Array(excludeIDs)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return queryArchives(ctx, q, query, args...)
}

func (s *Store) ListRecentArchives(ctx context.Context, excludeIDs []string, limit int) ([]stream.Archive, error) {
	return listRecentArchives(ctx, s.db, excludeIDs, limit)
}

func (s *Store) UpdateArchivedStream(ctx context.Context, arch stream.Archive) (stream.Archive, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE archived_streams SET title = $3, description = $4, tags = $5
		WHERE id = $1 AND account_id = $2
	`, arch.ID, arch.AccountID, arch.Title, arch.Description, pq.Array(arch.Tags))
	if err != nil {
		return stream.Archive{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return stream.Archive{}, fmt.Errorf("archived stream %s: %w", arch.ID, storage.ErrNotFound)
	}
	return s.GetArchivedStream(ctx, arch.AccountID, arch.ID)
}

func (s *Store) DeleteArchivedStream(ctx context.Context, accountID, streamID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM archived_streams WHERE id = $1 AND account_id = $2
	`, streamID, accountID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("archived stream %s: %w", streamID, storage.ErrNotFound)
	}
	return nil
}

const infoColumns = `account_id, username, title, description, tags, total_views, updated_at`

func scanInfoRow(scanner interface{ Scan(...interface{}) error }) (stream.Info, error) {
	var info stream.Info
	err := scanner.Scan(&info.AccountID, &info.Username, &info.Title, &info.Description, pq.Array(&info.Tags), &info.TotalViews, &info.UpdatedAt)
	return info, err
}

func getStreamInfo(ctx context.Context, q querier, accountID string) (stream.Info, error) {
	info, err := scanInfoRow(q.QueryRowContext(ctx, `
		SELECT `+infoColumns+` FROM stream_information WHERE account_id = $1
	`, accountID))
	return info, mapErr(err, "stream info")
}

func (s *Store) GetStreamInfo(ctx context.Context, accountID string) (stream.Info, error) {
	return getStreamInfo(ctx, s.db, accountID)
}

func queryInfos(ctx context.Context, q querier, query string, args ...interface{}) ([]stream.Info, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stream.Info
	for rows.Next() {
		info, err := scanInfoRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func listStreamInfo(ctx context.Context, q querier, accountIDs []string) ([]stream.Info, error) {
	return queryInfos(ctx, q, `
		SELECT `+infoColumns+` FROM stream_information WHERE account_id = ANY($1)
	`, pq.Array(accountIDs))
}

func (s *Store) UpdateStreamInfo(ctx context.Context, info stream.Info) (stream.Info, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_information SET title = $2, description = $3, tags = $4, updated_at = $5
		WHERE account_id = $1
	`, info.AccountID, info.Title, info.Description, pq.Array(info.Tags), time.Now().UTC())
	if err != nil {
		return stream.Info{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return stream.Info{}, fmt.Errorf("stream info %s: %w", info.AccountID, storage.ErrNotFound)
	}
	return s.GetStreamInfo(ctx, info.AccountID)
}

func (s *Store) IncrementTotalViews(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_information SET total_views = total_views + 1 WHERE account_id = $1
	`, accountID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("stream info %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

func searchStreamInfo(ctx context.Context, q querier, term string) ([]stream.Info, error) {
	return queryInfos(ctx, q, `
		SELECT `+infoColumns+` FROM stream_information
		WHERE title ~* $1 OR array_to_string(tags, ' ') ~* $1
	`, wordPattern(term))
}

func (s *Store) SearchStreamInfo(ctx context.Context, term string) ([]stream.Info, error) {
	return searchStreamInfo(ctx, s.db, term)
}

// ReadSnapshot runs fn inside a repeatable-read, read-only transaction so
// every query fn issues sees the same database state.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(storage.StreamReader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(snapshot{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// snapshot serves the aggregate reads through one transaction.
type snapshot struct {
	tx *sql.Tx
}

func (r snapshot) ListLiveProfiles(ctx context.Context) ([]account.Profile, error) {
	return listLiveProfiles(ctx, r.tx)
}

func (r snapshot) GetProfiles(ctx context.Context, accountIDs []string) ([]account.Profile, error) {
	return getProfiles(ctx, r.tx, accountIDs)
}

func (r snapshot) SearchProfiles(ctx context.Context, term string) ([]account.Profile, error) {
	return searchProfiles(ctx, r.tx, term)
}

func (r snapshot) ListLiveStreams(ctx context.Context, limit int) ([]stream.Live, error) {
	return listLiveStreams(ctx, r.tx, limit)
}

func (r snapshot) GetLiveStream(ctx context.Context, accountID string) (stream.Live, error) {
	return getLiveStream(ctx, r.tx, accountID)
}

func (r snapshot) GetStreamInfo(ctx context.Context, accountID string) (stream.Info, error) {
	return getStreamInfo(ctx, r.tx, accountID)
}

func (r snapshot) ListStreamInfo(ctx context.Context, accountIDs []string) ([]stream.Info, error) {
	return listStreamInfo(ctx, r.tx, accountIDs)
}

func (r snapshot) ListLatestArchives(ctx context.Context) ([]stream.Archive, error) {
	return listLatestArchives(ctx, r.tx)
}

func (r snapshot) ListRecentArchives(ctx context.Context, excludeIDs []string, limit int) ([]stream.Archive, error) {
	return listRecentArchives(ctx, r.tx, excludeIDs, limit)
}

func (r snapshot) SearchStreamInfo(ctx context.Context, term string) ([]stream.Info, error) {
	return searchStreamInfo(ctx, r.tx, term)
}

// --- ChatStore --------------------------------------------------------------

func (s *Store) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, sender_id, sent_to, body, votes, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.SenderID, msg.SentTo, msg.Body, msg.Votes, msg.SentAt)
	if err != nil {
		return chat.Message{}, mapErr(err, "chat message")
	}
	return msg, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, sentTo string, since time.Time) ([]chat.MessageWithSender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.sent_to, m.body, m.votes, m.sent_at,
		       p.username, p.name, p.picture
		FROM chat_messages m
		JOIN profiles p ON p.account_id = m.sender_id
		WHERE m.sent_to = $1 AND m.sent_at >= $2
		ORDER BY m.sent_at ASC
	`, sentTo, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []chat.MessageWithSender
	for rows.Next() {
		var msg chat.MessageWithSender
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SentTo, &msg.Body, &msg.Votes, &msg.SentAt, &msg.SenderUsername, &msg.SenderName, &msg.SenderPicture); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (s *Store) AddVote(ctx context.Context, senderID, messageID, sentTo string, delta int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET votes = votes + $4
		WHERE id = $2 AND sender_id = $1 AND sent_to = $3
	`, senderID, messageID, sentTo, delta)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("chat message %s: %w", messageID, storage.ErrNotFound)
	}
	return nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_transactions (id, from_id, to_id, currency_code, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.FromID, tx.ToID, tx.CurrencyCode, tx.Amount, tx.CreatedAt)
	if err != nil {
		return payment.Transaction{}, mapErr(err, "transaction")
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]payment.TransactionWithSender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.from_id, t.to_id, t.currency_code, t.amount, t.created_at,
		       p.username, p.name, p.picture
		FROM user_transactions t
		JOIN profiles p ON p.account_id = t.from_id
		WHERE t.to_id = $1
		ORDER BY t.created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.TransactionWithSender
	for rows.Next() {
		var tx payment.TransactionWithSender
		if err := rows.Scan(&tx.ID, &tx.FromID, &tx.ToID, &tx.CurrencyCode, &tx.Amount, &tx.CreatedAt, &tx.SenderUsername, &tx.SenderName, &tx.SenderPicture); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
