// Copyright © 2020 Jonathan Whitaker <github@whitaker.io>.
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pipeline is the message-passing substrate for radar
// signal-processing streams: envelopes, channels, tasks and streams that
// move PRI samples and derived products between built-in I/O stages and
// dynamically loaded algorithms.
package pipeline
