package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"trajreplay/internal/encoding"
)

// Writer creates or appends to a container file. Recording tools and tests use it; replay never does.
type Writer struct {
	db *sql.DB
}

func Create(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("empty dataset path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db, writerPragmas); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Writer{db: db}, nil
}

func (w *Writer) Close() error { return w.db.Close() }

func (w *Writer) SetEnvArgs(ctx context.Context, args EnvArgs) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	_, err = w.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('env_args',?)`, string(b))
	return err
}

func (w *Writer) PutEpisode(ctx context.Context, ep Episode) error {
	if ep.ID == "" {
		return fmt.Errorf("episode id is required")
	}
	if ep.Actions != nil && len(ep.Actions) != len(ep.States) {
		return fmt.Errorf("%s: %d actions for %d states", ep.ID, len(ep.Actions), len(ep.States))
	}
	states, err := encoding.EncodeMatrix(ep.States)
	if err != nil {
		return fmt.Errorf("%s: states: %w", ep.ID, err)
	}
	var actions []byte
	if ep.Actions != nil {
		if actions, err = encoding.EncodeMatrix(ep.Actions); err != nil {
			return fmt.Errorf("%s: actions: %w", ep.ID, err)
		}
	}
	var meta any
	if ep.Meta != nil {
		meta = string(ep.Meta)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO episodes(id,num_samples,model,ep_meta,states,actions) VALUES(?,?,?,?,?,?)`,
		ep.ID, len(ep.States), ep.Model, meta, states, actions,
	)
	return err
}

func (w *Writer) PutMask(ctx context.Context, filterKey string, ids ...string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO masks(filter_key,episode_id) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, filterKey, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (w *Writer) PutObservation(ctx context.Context, episodeID, key string, block encoding.FrameBlock) error {
	blob, err := encoding.EncodeFrames(block)
	if err != nil {
		return fmt.Errorf("%s/obs/%s: %w", episodeID, key, err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO observations(episode_id,key,frames,height,width,channels,data) VALUES(?,?,?,?,?,?,?)`,
		episodeID, key, block.Count, block.Height, block.Width, block.Channels, blob,
	)
	return err
}
