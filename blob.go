package dso

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unsafe"

	"go.uber.org/zap"
)

// ImportDescriptor names one nested module: the binary loader kind and its payload.
type ImportDescriptor struct {
	Kind    string
	Payload []byte
}

// maxBlobSize bounds a blob size read from native memory.
const maxBlobSize = 1 << 30

var errTruncated = errors.New("truncated import blob")

// DecodeImports parses the payload of a nested-import blob:
// a little endian uint64 count followed by count records of
// length-prefixed kind and length-prefixed payload.
func DecodeImports(blob []byte) (out []ImportDescriptor, err error) {
	r := bytes.NewReader(blob)
	var n uint64
	if err = binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errTruncated
	}
	// every record needs at least two length prefixes
	if n > uint64(r.Len())/16 {
		return nil, fmt.Errorf("import count %d exceeds blob size %d", n, len(blob))
	}
	out = make([]ImportDescriptor, 0, n)
	for i := uint64(0); i < n; i++ {
		var kind, payload []byte
		if kind, err = readChunk(r); err != nil {
			return nil, fmt.Errorf("import %d kind: %w", i, err)
		}
		if len(kind) == 0 {
			return nil, fmt.Errorf("import %d: empty kind", i)
		}
		if payload, err = readChunk(r); err != nil {
			return nil, fmt.Errorf("import %d payload: %w", i, err)
		}
		out = append(out, ImportDescriptor{Kind: string(kind), Payload: payload})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d imports", r.Len(), n)
	}
	return
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errTruncated
	}
	if n > uint64(r.Len()) {
		return nil, errTruncated
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errTruncated
	}
	return b, nil
}

// EncodeImports is the inverse of DecodeImports.
func EncodeImports(imports []ImportDescriptor) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, uint64(len(imports)))
	for _, d := range imports {
		_ = binary.Write(&b, binary.LittleEndian, uint64(len(d.Kind)))
		b.WriteString(d.Kind)
		_ = binary.Write(&b, binary.LittleEndian, uint64(len(d.Payload)))
		b.Write(d.Payload)
	}
	return b.Bytes()
}

// EncodeBlob frames an encoded import list with its size, the layout of SymbolDevBlob.
func EncodeBlob(imports []ImportDescriptor) []byte {
	payload := EncodeImports(imports)
	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint64(out, uint64(len(payload)))
	return append(out, payload...)
}

// readBlob copies the framed blob at addr out of native memory.
func readBlob(addr uintptr) ([]byte, error) {
	size := *(*uint64)(unsafe.Pointer(addr))
	if size > maxBlobSize {
		return nil, fmt.Errorf("blob size %d out of range", size)
	}
	if size == 0 {
		return nil, errTruncated
	}
	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(addr+8)), size)), nil
}

// ImportsOf decodes the nested-import blob exported by native. A library without
// SymbolDevBlob has no imports.
func ImportsOf(native NativeLibrary) ([]ImportDescriptor, error) {
	addr := native.Symbol(SymbolDevBlob)
	if addr == 0 {
		return nil, nil
	}
	blob, err := readBlob(addr)
	if err != nil {
		return nil, err
	}
	return DecodeImports(blob)
}

// loadImports attaches the nested modules declared by SymbolDevBlob, in blob order.
func loadImports(l *Library) error {
	imports, err := ImportsOf(l.native)
	if err != nil {
		return &Error{Kind: KindCorruptImports, Op: "imports", Path: l.path, Name: SymbolDevBlob, Cause: err}
	}
	return attachImports(l, imports)
}

func attachImports(l *Library, imports []ImportDescriptor) error {
	for i, d := range imports {
		m, err := LoadBinary(d.Kind, d.Payload)
		if err != nil {
			return &Error{Kind: kindOf(err, KindCorruptImports), Op: "imports", Path: l.path, Detail: fmt.Sprintf("import %d of kind %s", i, d.Kind), Cause: err}
		}
		l.Import(m)
		l.log.Debug("import attached", zap.Int("index", i), zap.String("kind", m.TypeKey()))
	}
	return nil
}

func kindOf(err error, fallback Kind) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindUnknownKind {
		return e.Kind
	}
	return fallback
}
