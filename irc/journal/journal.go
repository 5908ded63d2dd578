// Package journal persists one record per reconciled SJOIN. Records are
// queued by the reconciling goroutine and written by a single writer, so
// reconciliation never waits on the database.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/sjoin"
)

// DefaultQueueSize bounds the records waiting to be written.
const DefaultQueueSize = 1024

// ErrUnknownDSN is returned for a DSN whose scheme selects no driver.
var ErrUnknownDSN = errors.New("unrecognized journal dsn")

// Record is one persisted reconciliation.
type Record struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Channel string `gorm:"size:64;index" json:"channel"`
	Link    string `gorm:"size:64" json:"link"`
	Server  string `gorm:"size:128" json:"server"`
	SID     string `gorm:"size:16" json:"sid"`

	OldTS   uint64 `json:"old_ts"`
	NewTS   uint64 `json:"new_ts"`
	Outcome string `gorm:"size:8" json:"outcome"`

	Created   bool `json:"created"`
	Destroyed bool `json:"destroyed"`

	Joined     int `json:"joined"`
	Skipped    int `json:"skipped"`
	Privileged int `json:"privileged"`
	Stripped   int `json:"stripped"`

	PrunedBans        int `json:"pruned_bans"`
	PrunedExceptions  int `json:"pruned_exceptions"`
	PrunedInviteExems int `json:"pruned_invite_exemptions"`

	ModeLines   int `json:"mode_lines"`
	RelayLines  int `json:"relay_lines"`
	BanLines    int `json:"ban_lines"`
	StripLines  int `json:"strip_lines"`
	NoticeLines int `json:"notice_lines"`

	Abort string `gorm:"size:255" json:"abort,omitempty"`
}

// TableName names the journal table.
func (Record) TableName() string {
	return "reconciliations"
}

// NewRecord flattens a reconciliation result.
func NewRecord(r sjoin.Result) Record {
	return Record{
		CreatedAt:         r.At,
		Channel:           r.Channel,
		Link:              r.Link,
		Server:            r.Server,
		SID:               r.SID,
		OldTS:             r.OldTS,
		NewTS:             r.NewTS,
		Outcome:           string(r.Outcome),
		Created:           r.Created,
		Destroyed:         r.Destroyed,
		Joined:            r.Joined,
		Skipped:           r.Skipped,
		Privileged:        r.Privileged,
		Stripped:          r.Stripped,
		PrunedBans:        r.Pruned[channel.Bans],
		PrunedExceptions:  r.Pruned[channel.Exceptions],
		PrunedInviteExems: r.Pruned[channel.InviteExems],
		ModeLines:         r.Lines.Mode,
		RelayLines:        r.Lines.Relay,
		BanLines:          r.Lines.Ban,
		StripLines:        r.Lines.Strip,
		NoticeLines:       r.Lines.Notice,
		Abort:             r.Abort,
	}
}

// Dialector selects the gorm driver from the DSN scheme: sqlite://,
// postgres:// or postgresql://, and mysql://.
func Dialector(dsn string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDSN, redact(dsn))
}

// Open connects to the database named by dsn.
func Open(dsn string) (*gorm.DB, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return db, nil
}

// Options tunes a Journal.
type Options struct {
	QueueSize int
	// OnDrop is called for every record dropped because the queue was full.
	OnDrop func()
}

// Journal queues reconciliation records and writes them in the background.
type Journal struct {
	db      *gorm.DB
	log     *zap.Logger
	queue   chan Record
	onDrop  func()
	dropped atomic.Uint64
}

// New migrates the schema and returns a journal writing to db. Run must be
// started for records to be written.
func New(db *gorm.DB, opts Options, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &Journal{
		db:     db,
		log:    log,
		queue:  make(chan Record, opts.QueueSize),
		onDrop: opts.OnDrop,
	}, nil
}

// Observe queues r without blocking. It drops the record when the queue is
// full.
func (j *Journal) Observe(r sjoin.Result) {
	select {
	case j.queue <- NewRecord(r):
	default:
		j.dropped.Add(1)
		if j.onDrop != nil {
			j.onDrop()
		}
	}
}

// Dropped returns the number of records dropped so far.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Run writes queued records until ctx is cancelled, then writes whatever
// is still queued and returns.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-j.queue:
			j.write(context.Background(), rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-j.queue:
					j.write(context.Background(), rec)
				default:
					return nil
				}
			}
		}
	}
}

func (j *Journal) write(ctx context.Context, rec Record) {
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		j.log.Warn("failed to write journal record",
			zap.String("channel", rec.Channel),
			zap.Error(err),
		)
	}
}

// Recent returns up to limit records, newest first, optionally for one
// channel only.
func (j *Journal) Recent(ctx context.Context, channelName string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := j.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if channelName != "" {
		q = q.Where("channel = ?", channelName)
	}

	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return out, nil
}

// redact hides the credentials part of a URL-shaped DSN.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
