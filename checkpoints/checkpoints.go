/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package checkpoints persists regularization-path results and progress logs.
//
// A Handler owns a checkpoint directory: each path entry is saved as an
// individual JSON document, and progress lines are appended to `output.log`
// in the directory while being mirrored to a live stream (os.Stderr by
// default).
//
// Create a Handler by calling Build, followed by the option setters, and
// finally Config.Done:
//
//	handler, err := checkpoints.Build(dir).Stream(os.Stdout).Done()
package checkpoints

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// LogFileName is the name of the progress log appended to inside the
// checkpoint directory.
const LogFileName = "output.log"

// Config for the checkpoints Handler to be created. This is created with
// Build() and configured with the various methods. Once finished, call Done().
type Config struct {
	dir    string
	stream io.Writer
	err    error
}

// Build a configuration for a checkpoints.Handler saving under dir. The
// directory is created if it does not exist.
func Build(dir string) *Config {
	c := &Config{dir: dir, stream: os.Stderr}
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.err = errors.Wrapf(err, "failed to os.Stat(%q)", dir)
		return c
	}
	if err == nil && !fi.IsDir() {
		c.err = errors.Errorf("checkpoint path %q exists but is not a directory", dir)
		return c
	}
	if err != nil {
		if err = os.MkdirAll(dir, DirPermMode); err != nil {
			c.err = errors.Wrapf(err, "trying to create checkpoint dir %q", dir)
		}
	}
	return c
}

// Stream sets the live writer that mirrors every progress line written to the
// log file. Defaults to os.Stderr.
func (c *Config) Stream(w io.Writer) *Config {
	c.stream = w
	return c
}

// Done builds the configured Handler, opening the progress log for appending.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	logPath := filepath.Join(c.dir, LogFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, errors.Wrapf(err, "opening progress log %q", logPath)
	}
	return &Handler{
		dir:     c.dir,
		logFile: logFile,
		logger:  log.New(io.MultiWriter(logFile, c.stream), "", log.LstdFlags),
	}, nil
}

// Handler saves checkpoints and appends progress lines under one directory.
type Handler struct {
	dir     string
	logFile *os.File
	logger  *log.Logger
}

// Dir returns the checkpoint directory.
func (h *Handler) Dir() string { return h.dir }

// Logf appends one structured progress line, written identically to the log
// file and the live stream.
func (h *Handler) Logf(format string, args ...any) {
	h.logger.Printf(format, args...)
}

// SaveJSON persists value as an indented JSON document named name inside the
// checkpoint directory.
func (h *Handler) SaveJSON(name string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding checkpoint %q", name)
	}
	path := filepath.Join(h.dir, name)
	if err = os.WriteFile(path, encoded, 0660); err != nil {
		return errors.Wrapf(err, "writing checkpoint %q", path)
	}
	return nil
}

// LoadJSON reads a checkpoint previously written with SaveJSON into value.
func (h *Handler) LoadJSON(name string, value any) error {
	path := filepath.Join(h.dir, name)
	encoded, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading checkpoint %q", path)
	}
	if err = json.Unmarshal(encoded, value); err != nil {
		return errors.Wrapf(err, "decoding checkpoint %q", path)
	}
	return nil
}

// Close flushes and closes the progress log file.
func (h *Handler) Close() error {
	return errors.Wrapf(h.logFile.Close(), "closing progress log in %q", h.dir)
}
