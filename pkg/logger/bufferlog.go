// Package logger buffers detailed log lines per track load. Buffers are
// keyed by Key(generation, file) so overlapping loads of one file keep
// separate buffers.
//
// While a file is being loaded every detail line goes into its buffer.
//   - On failure the buffer is replayed, followed by the final error.
//   - On success the buffer is dropped and one short line is written.
//
// All state lives in a single goroutine fed by a command channel.
package logger

import (
	"bytes"
	"fmt"
	"log"
	"strings"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
	actSync
)

type cmd struct {
	act     action
	key     string
	message string // Append, Success
	err     error  // FlushError
	done    chan struct{}
}

var ch = make(chan cmd, 128)

// Key names the buffer of one file within one load generation.
func Key(gen uint64, file string) string { return fmt.Sprintf("#%d %s", gen, file) }

// Begin starts buffering for key.
func Begin(key string) { ch <- cmd{act: actBegin, key: key} }

// Append adds one detail line. Without an open buffer the line is logged
// immediately.
func Append(key, msg string) { ch <- cmd{act: actAppend, key: key, message: msg} }

// Success drops the buffer and logs summary.
func Success(key, summary string) { ch <- cmd{act: actSuccess, key: key, message: summary} }

// FlushError replays the buffer and logs err.
func FlushError(key string, err error) { ch <- cmd{act: actFlushErr, key: key, err: err} }

// Sync returns once every command sent before it has been handled.
func Sync() {
	done := make(chan struct{})
	ch <- cmd{act: actSync, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.key] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.key]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%s][Load] ✔ %s", c.key, c.message)
			delete(buffers, c.key)

		case actFlushErr:
			if b := buffers[c.key]; b != nil {
				for _, ln := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
					if ln != "" {
						log.Print(ln)
					}
				}
				delete(buffers, c.key)
			}
			log.Printf("[%s][SKIP] %v", c.key, c.err)

		case actSync:
			close(c.done)
		}
	}
}
