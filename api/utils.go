package api

import (
	"strconv"
	"sync/atomic"
	"time"

	"prism-board/domain"
)

var lastTimestamp int64

// nextTimestamp returns a strictly increasing unix-nano timestamp.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// finalizeCommands stamps each command with a timestamp and an idempotency
// key, generating the key from the timestamp when the client sent none.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	for i := range cmds {
		cmds[i].Timestamp = nextTimestamp()
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = strconv.FormatInt(cmds[i].Timestamp, 36)
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}
