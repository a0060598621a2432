// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sqliterepo

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"

	"github.com/evidentia/custody/errors"
	"github.com/evidentia/custody/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrate executes the embedded migration scripts in lexicographic
// filename order. Scripts are written to be idempotent, so migrate is
// safe to run on every open.
func migrate(ctx context.Context, db *sql.DB) error {
	dirents, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return errors.E("read embedded migrations", err)
	}
	sort.Slice(dirents, func(i, j int) bool {
		return dirents[i].Name() < dirents[j].Name()
	})
	for _, dirent := range dirents {
		if dirent.IsDir() {
			continue
		}
		raw, err := migrationFS.ReadFile(path.Join("migrations", dirent.Name()))
		if err != nil {
			return errors.E("read migration "+dirent.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return errors.E("exec migration "+dirent.Name(), err)
		}
		log.Debug.Printf("sqliterepo: applied migration %s", dirent.Name())
	}
	return nil
}
