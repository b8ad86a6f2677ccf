// Package vsi simulates Virtual Streaming Interface peripherals.
//
// A Peripheral has a timer, a DMA engine, an interrupt line and 64 user
// registers. When the timer runs with DMA triggering enabled, every timer
// event moves one block between a Model and a stream.Stream: a
// peripheral-to-memory transfer fills the next block of an input stream
// from Model.ReadData, a memory-to-peripheral transfer drains one block of
// an output stream into Model.WriteData. The timer goroutine is the only
// context that touches the device side of the stream.
//
// Models:
//
//   - IntLines: integer rows from a text file, one row per block
//   - RawFrames: fixed-size raw frames
//   - Still: one decoded PNG, JPEG or BMP image
//   - Pattern: generated colour bars
//   - Output: forwards drained blocks to a function
package vsi
