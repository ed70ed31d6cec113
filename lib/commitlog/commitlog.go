package commitlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/blockstm/lib/stm"
	"github.com/ValentinKolb/blockstm/lib/util"
)

const (
	magicNum   = "BSTMLOG\x00"
	logVersion = 1

	flagDelete uint8 = 1 << 0
)

// ErrCorruptLog is returned by ReadAll for malformed input.
var ErrCorruptLog = errors.New("corrupt commit log")

// Record is one committed transaction's write set.
type Record struct {
	TxnIndex int
	WriteSet stm.WriteSet
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer appends committed write sets to an underlying io.Writer. It
// implements stm.CommitListener; encoding and I/O happen on a background
// goroutine fed through a queue, so OnCommitted never blocks on the sink.
//
// Errors from the sink are deferred and reported by Close.
type Writer struct {
	bw    *bufio.Writer
	queue *util.LockFreeMPSC[Record]
	done  chan struct{}

	mu  sync.Mutex
	err error
}

var _ stm.CommitListener = (*Writer)(nil)

// NewWriter creates a commit log writer and writes the log header.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return nil, fmt.Errorf("failed to write magic number: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(logVersion)); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}

	cw := &Writer{
		bw:    bw,
		queue: util.NewLockFreeMPSC[Record](),
		done:  make(chan struct{}),
	}
	go cw.drain()
	return cw, nil
}

func (w *Writer) OnCommitted(txnIndex int, ws stm.WriteSet) {
	w.queue.Push(&Record{TxnIndex: txnIndex, WriteSet: ws})
}

// drain encodes queued records until the queue is closed and empty.
func (w *Writer) drain() {
	defer close(w.done)

	for rec := range w.queue.Recv() {
		if err := w.encode(rec); err != nil {
			w.fail(err)
			return
		}
	}
}

func (w *Writer) encode(rec *Record) error {
	if err := binary.Write(w.bw, binary.LittleEndian, uint64(rec.TxnIndex)); err != nil {
		return err
	}
	if err := binary.Write(w.bw, binary.LittleEndian, uint64(len(rec.WriteSet))); err != nil {
		return err
	}

	for _, op := range rec.WriteSet {
		if err := binary.Write(w.bw, binary.LittleEndian, uint32(len(op.Key))); err != nil {
			return err
		}
		if _, err := w.bw.WriteString(op.Key); err != nil {
			return err
		}

		var flags uint8
		if op.Delete {
			flags |= flagDelete
		}
		if err := w.bw.WriteByte(flags); err != nil {
			return err
		}

		value := op.Value
		if op.Delete {
			value = nil
		}
		if err := binary.Write(w.bw, binary.LittleEndian, uint32(len(value))); err != nil {
			return err
		}
		if _, err := w.bw.Write(value); err != nil {
			return err
		}
	}
	return nil
}

// Close drains pending records, flushes the buffer and returns the first
// error encountered while writing.
func (w *Writer) Close() error {
	w.queue.Close()
	<-w.done

	if err := w.bw.Flush(); err != nil {
		w.fail(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// ReadAll decodes a complete commit log.
func ReadAll(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: missing magic number", ErrCorruptLog)
	}
	if string(magic) != magicNum {
		return nil, fmt.Errorf("%w: bad magic number", ErrCorruptLog)
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: missing version", ErrCorruptLog)
	}
	if version != logVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptLog, version)
	}

	var records []Record
	for {
		var txnIndex uint64
		if err := binary.Read(br, binary.LittleEndian, &txnIndex); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("%w: truncated record header", ErrCorruptLog)
		}

		var numWrites uint64
		if err := binary.Read(br, binary.LittleEndian, &numWrites); err != nil {
			return nil, fmt.Errorf("%w: truncated record header", ErrCorruptLog)
		}

		rec := Record{TxnIndex: int(txnIndex)}
		for i := uint64(0); i < numWrites; i++ {
			op, err := readWriteOp(br)
			if err != nil {
				return nil, err
			}
			rec.WriteSet = append(rec.WriteSet, op)
		}
		records = append(records, rec)
	}
}

func readWriteOp(br *bufio.Reader) (stm.WriteOp, error) {
	var keyLen uint32
	if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
		return stm.WriteOp{}, fmt.Errorf("%w: truncated write op", ErrCorruptLog)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(br, key); err != nil {
		return stm.WriteOp{}, fmt.Errorf("%w: truncated key", ErrCorruptLog)
	}

	flags, err := br.ReadByte()
	if err != nil {
		return stm.WriteOp{}, fmt.Errorf("%w: truncated flags", ErrCorruptLog)
	}

	var valueLen uint32
	if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
		return stm.WriteOp{}, fmt.Errorf("%w: truncated value length", ErrCorruptLog)
	}
	var value []byte
	if valueLen > 0 {
		value = make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return stm.WriteOp{}, fmt.Errorf("%w: truncated value", ErrCorruptLog)
		}
	}

	return stm.WriteOp{
		Key:    string(key),
		Value:  value,
		Delete: flags&flagDelete != 0,
	}, nil
}
