// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Custodyctl administers a custody database from the command line.
//
// Usage:
//
//	custodyctl key
//	custodyctl -config custody.yaml init
//	custodyctl -config custody.yaml verify [-item ID]
//
// key generates a fresh base64 master key for CUSTODY_AES_KEY_BASE64.
// init creates the database, applies migrations, and creates the blob
// directory. verify checks the audit chain of one item, or of every
// item concurrently, and exits nonzero if any chain fails to verify.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/evidentia/custody/audit"
	"github.com/evidentia/custody/cryptostore"
	"github.com/evidentia/custody/custody"
	"github.com/evidentia/custody/custody/sqliterepo"
	"github.com/evidentia/custody/errors"
	"github.com/evidentia/custody/log"
	"github.com/evidentia/custody/must"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: custodyctl [flags] <command>

Commands:
	key	generate a fresh base64 master key
	init	create the database and blob directory
	verify	verify audit chains (-item ID for a single item)

Flags:
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "custody.yaml", "path to the YAML configuration file")
	log.AddFlags()
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}
	ctx := context.Background()

	switch cmd := flag.Arg(0); cmd {
	case "key":
		runKey()
	case "init":
		runInit(ctx, *configPath)
	case "verify":
		runVerify(ctx, *configPath, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "custodyctl: unknown command %q\n", cmd)
		usage()
	}
}

func runKey() {
	_, encoded, err := cryptostore.GenerateKey()
	must.Nil(err, "generate key")
	fmt.Println(encoded)
}

func runInit(ctx context.Context, configPath string) {
	config, err := loadConfig(configPath)
	must.Nil(err)
	// The key is not needed to initialize, but catching a bad key
	// here beats catching it on the first upload.
	if _, err := config.key(); err != nil {
		log.Fatal(err)
	}
	if _, err := cryptostore.NewFileStore(config.BlobDir); err != nil {
		log.Fatal(err)
	}
	store, err := sqliterepo.Open(ctx, config.Database)
	must.Nil(err)
	must.Nil(store.Close())
	log.Printf("initialized database %s and blob directory %s", config.Database, config.BlobDir)
}

func runVerify(ctx context.Context, configPath string, args []string) {
	flags := flag.NewFlagSet("verify", flag.ExitOnError)
	itemID := flags.String("item", "", "verify only this item's chain")
	parallelism := flags.Int("parallelism", 8, "items verified concurrently")
	must.Nil(flags.Parse(args))

	config, err := loadConfig(configPath)
	must.Nil(err)
	store, err := sqliterepo.Open(ctx, config.Database)
	must.Nil(err)
	defer store.Close()

	var items []custody.Item
	if *itemID != "" {
		item, err := store.Item(ctx, *itemID)
		if err != nil {
			log.Fatal(err)
		}
		items = []custody.Item{*item}
	} else {
		items, err = store.Items(ctx)
		must.Nil(err)
	}

	chain := audit.NewChain(store)
	var group errgroup.Group
	group.SetLimit(*parallelism)
	tampered := make([]error, len(items))
	for i := range items {
		i := i
		group.Go(func() error {
			err := chain.Verify(ctx, items[i].ID)
			if err == nil {
				log.Debug.Printf("item %s (%s): chain ok", items[i].ID, items[i].Ref)
				return nil
			}
			if errors.Is(errors.Tampered, err) {
				tampered[i] = err
				return nil
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}

	bad := 0
	for i, err := range tampered {
		if err != nil {
			bad++
			log.Error.Printf("item %s (%s): %v", items[i].ID, items[i].Ref, err)
		}
	}
	if bad > 0 {
		log.Fatalf("%d of %d chain(s) failed verification", bad, len(items))
	}
	log.Printf("verified %d chain(s), all intact", len(items))
}
