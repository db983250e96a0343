// Package tickets reads closed and at-risk tickets from the GLPI database.
// Access is read-only.
package tickets

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// Config holds the GLPI connection settings.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	UserEmail string
	// SLAGroupID selects the support group watched by the SLA reports.
	SLAGroupID int
	Location   *time.Location
}

// DSN builds the go-sql-driver DSN for cfg.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Loc = c.location()
	mc.Timeout = 10 * time.Second
	mc.ReadTimeout = 30 * time.Second
	return mc.FormatDSN()
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Source queries GLPI for work items and SLA reports.
type Source struct {
	db     *sql.DB
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewSource opens a connection pool to GLPI and verifies it.
func NewSource(cfg Config, logger *zap.Logger) (*Source, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open GLPI database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to GLPI database: %w", err)
	}

	return NewSourceFromDB(db, cfg, logger), nil
}

// NewSourceFromDB wraps an existing pool.
func NewSourceFromDB(db *sql.DB, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserEmail == "" {
		logger.Warn("glpi_user_email_not_configured")
	}
	return &Source{db: db, cfg: cfg, now: time.Now, logger: logger}
}

// Close closes the pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// closedTicketsQuery selects tickets solved inside [?, ?) whose assigned
// technician (tickets_users.type = 2) owns the configured email.
const closedTicketsQuery = `
	SELECT
		gt.id,
		gt.name,
		gt.solvedate,
		gt.entities_id,
		ge.name,
		ge.completename,
		CONCAT(gu.realname, ' ', gu.firstname)
	FROM glpi_tickets gt
	LEFT JOIN glpi_entities ge ON gt.entities_id = ge.id
	INNER JOIN glpi_tickets_users gtu ON gt.id = gtu.tickets_id AND gtu.type = 2
	INNER JOIN glpi_users gu ON gtu.users_id = gu.id
	INNER JOIN glpi_useremails gue ON gu.id = gue.users_id
	WHERE gt.is_deleted = 0
		AND gt.status > 4
		AND gt.solvedate >= ?
		AND gt.solvedate < ?
		AND gue.email = ?
	ORDER BY gt.solvedate ASC`

// FetchClosedItemsToday returns tickets solved today.
func (s *Source) FetchClosedItemsToday(ctx context.Context) ([]models.WorkItem, error) {
	start := s.startOfToday()
	return s.fetchClosed(ctx, start, start.AddDate(0, 0, 1))
}

// FetchClosedItemsRange returns tickets solved from the start of the day
// `days` days ago through the end of today.
func (s *Source) FetchClosedItemsRange(ctx context.Context, days int) ([]models.WorkItem, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative, got %d", days)
	}
	today := s.startOfToday()
	return s.fetchClosed(ctx, today.AddDate(0, 0, -days), today.AddDate(0, 0, 1))
}

func (s *Source) startOfToday() time.Time {
	now := s.now().In(s.cfg.location())
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (s *Source) fetchClosed(ctx context.Context, from, to time.Time) ([]models.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, closedTicketsQuery, from, to, s.cfg.UserEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed tickets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	loc := s.cfg.location()
	items := []models.WorkItem{}
	for rows.Next() {
		var (
			id             int64
			title          string
			solved         time.Time
			entityID       int64
			entityName     sql.NullString
			entityFullname sql.NullString
			technician     sql.NullString
		)
		if err := rows.Scan(&id, &title, &solved, &entityID, &entityName, &entityFullname, &technician); err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}

		solved = solved.In(loc)
		y, m, d := solved.Date()
		meta := models.Metadata{
			models.MetaEntityID: entityID,
		}
		if entityName.Valid {
			meta[models.MetaEntityName] = entityName.String
		}
		if entityFullname.Valid {
			meta[models.MetaEntityFullname] = entityFullname.String
		}
		if technician.Valid {
			meta[models.MetaTechnician] = technician.String
		}

		items = append(items, models.WorkItem{
			ID:         strconv.FormatInt(id, 10),
			Title:      title,
			OriginDate: time.Date(y, m, d, 0, 0, 0, 0, loc),
			Source:     models.SourceExternal,
			Metadata:   meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket rows: %w", err)
	}

	s.logger.Debug("closed_tickets_fetched",
		zap.Int("count", len(items)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return items, nil
}
