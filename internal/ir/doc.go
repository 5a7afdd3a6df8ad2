// Package ir provides the value types shared by every statefold package.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Events are ordered by (blockNumber, logIndex), never by arrival time
//   - Events are identified by (blockNumber, logIndex, transactionHash)
//   - Payloads and checkpoint states stay raw JSON; the reducer owns their shape
//   - JSON tags use the camelCase names of the host wire format
package ir
