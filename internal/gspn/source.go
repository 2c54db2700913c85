// Package gspn provides read-only access to the GSPN operational database
// (a MySQL mirror of the service-order system). Query failures are logged
// and degrade to empty results so that one bad order never aborts a pass.
package gspn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Connection pool limits. The engine is strictly sequential, so a small
// pool is enough; idle connections are recycled to survive MySQL's
// wait_timeout on long-running deployments.
const (
	maxOpenConns    = 2
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

const sqlLogs = `SELECT SeqNo, ServiceOrder_fk, ChangedDate, ChangedTime,
	ChangedBy, SOComment, StatusDesc, StReasonDesc
	FROM service_order_logs
	WHERE ServiceOrder_fk = ?`

const sqlOrderDetails = `SELECT so.SvcOrderNo, so.AscJobNo, so.SvcTypeDesc,
	so.WarrantyType, so.SvcProduct, sord.IrisRepair, so.WtyException,
	sodate.CompleteDate, sop.Model_fk, sop.SerialNo, sord.DefectDesc
	FROM service_order so
	LEFT JOIN service_order_product sop ON so.SvcOrderNo = sop.ServiceOrder_fk
	LEFT JOIN service_order_repair_detail sord ON so.SvcOrderNo = sord.ServiceOrder_fk
	LEFT JOIN service_order_dates sodate ON so.SvcOrderNo = sodate.ServiceOrder_fk
	WHERE so.SvcOrderNo = ?`

// Client queries the GSPN database. Each call borrows a pooled connection
// and returns it on every exit path; no connection is held across calls.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open prepares a connection pool for the GSPN MySQL database. No
// connection is established yet; callers that want a startup check use
// Ping. Only a malformed configuration fails here.
func Open(host, user, password, dbName string, logger *slog.Logger) (*Client, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = dbName

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("gspn: building connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	logger.Info("gspn database configured", slog.String("host", host), slog.String("database", dbName))

	return NewClient(db, logger), nil
}

// NewClient wraps an existing database handle. Used by Open and by tests.
func NewClient(db *sql.DB, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{db: db, logger: logger}
}

// Ping verifies database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("gspn: ping: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Logs returns all interaction log rows for the given order key. Any
// failure is logged and yields an empty slice, never an error: the caller
// treats the order as having nothing new and retries on the next pass.
func (c *Client) Logs(ctx context.Context, orderKey string) []LogRow {
	rows, err := c.db.QueryContext(ctx, sqlLogs, orderKey)
	if err != nil {
		c.logger.Error("querying order logs",
			slog.String("order_key", orderKey),
			slog.String("error", err.Error()),
		)

		return nil
	}
	defer rows.Close()

	var out []LogRow

	for rows.Next() {
		var (
			seqNo                           sql.NullInt64
			key, date, clock, author        sql.NullString
			comment, statusDesc, reasonDesc sql.NullString
		)

		if err := rows.Scan(&seqNo, &key, &date, &clock, &author, &comment, &statusDesc, &reasonDesc); err != nil {
			c.logger.Error("scanning log row",
				slog.String("order_key", orderKey),
				slog.String("error", err.Error()),
			)

			return nil
		}

		out = append(out, LogRow{
			SeqNo:            seqNo.Int64,
			OrderKey:         key.String,
			ChangedDate:      date.String,
			ChangedTime:      clock.String,
			ChangedBy:        author.String,
			Comment:          comment.String,
			StatusDesc:       statusDesc.String,
			StatusReasonDesc: reasonDesc.String,
		})
	}

	if err := rows.Err(); err != nil {
		c.logger.Error("iterating log rows",
			slog.String("order_key", orderKey),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return out
}

// OrderDetails returns the joined detail rows for the given order key,
// empty on any failure. The join can fan out across product, repair and
// date tables; callers take the first row.
func (c *Client) OrderDetails(ctx context.Context, orderKey string) []OrderDetail {
	rows, err := c.db.QueryContext(ctx, sqlOrderDetails, orderKey)
	if err != nil {
		c.logger.Error("querying order details",
			slog.String("order_key", orderKey),
			slog.String("error", err.Error()),
		)

		return nil
	}
	defer rows.Close()

	var out []OrderDetail

	for rows.Next() {
		var cols [11]sql.NullString

		dests := make([]any, len(cols))
		for i := range cols {
			dests[i] = &cols[i]
		}

		if err := rows.Scan(dests...); err != nil {
			c.logger.Error("scanning detail row",
				slog.String("order_key", orderKey),
				slog.String("error", err.Error()),
			)

			return nil
		}

		out = append(out, OrderDetail{
			OrderKey:          cols[0].String,
			AscJobNo:          cols[1].String,
			ServiceTypeDesc:   cols[2].String,
			WarrantyType:      cols[3].String,
			Product:           cols[4].String,
			IrisRepair:        cols[5].String,
			WarrantyException: cols[6].String,
			CompleteDate:      cols[7].String,
			Model:             cols[8].String,
			SerialNo:          cols[9].String,
			DefectDesc:        cols[10].String,
		})
	}

	if err := rows.Err(); err != nil {
		c.logger.Error("iterating detail rows",
			slog.String("order_key", orderKey),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return out
}
