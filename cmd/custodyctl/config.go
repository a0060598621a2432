// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evidentia/custody/cryptostore"
	"github.com/evidentia/custody/custody"
	"github.com/evidentia/custody/errors"
)

// Config is the custodyctl YAML configuration.
//
//	database: /var/lib/custody/custody.db
//	blob_dir: /var/lib/custody/blobs
//	master_key: <base64>   # optional; CUSTODY_AES_KEY_BASE64 otherwise
//	policy:
//	  max_file_size: 26214400
//	  allowed_content_types: [application/pdf, image/jpeg]
type Config struct {
	Database  string `yaml:"database"`
	BlobDir   string `yaml:"blob_dir"`
	MasterKey string `yaml:"master_key"`
	Policy    struct {
		MaxFileSize         int64    `yaml:"max_file_size"`
		AllowedContentTypes []string `yaml:"allowed_content_types"`
	} `yaml:"policy"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E("read config "+path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errors.E(errors.Invalid, "parse config "+path, err)
	}
	if c.Database == "" {
		return nil, errors.E(errors.Invalid, "config "+path+" does not set database")
	}
	if c.BlobDir == "" {
		return nil, errors.E(errors.Invalid, "config "+path+" does not set blob_dir")
	}
	return &c, nil
}

// key returns the configured master key, falling back to the
// environment.
func (c *Config) key() (cryptostore.Key, error) {
	if c.MasterKey != "" {
		return cryptostore.ParseKey(c.MasterKey)
	}
	return cryptostore.KeyFromEnv()
}

// policy returns the configured acceptance policy with defaults for
// unset fields.
func (c *Config) policy() custody.Policy {
	p := custody.DefaultPolicy
	if c.Policy.MaxFileSize > 0 {
		p.MaxFileSize = c.Policy.MaxFileSize
	}
	if len(c.Policy.AllowedContentTypes) > 0 {
		p.AllowedContentTypes = c.Policy.AllowedContentTypes
	}
	return p
}
