package errs

import (
	"fmt"

	"github.com/relaycore/rplane/appruntime/exported/stack"
)

// Builder allows gradual construction of an *Error. The zero value is ready
// to use; call Err to materialize it.
type Builder struct {
	code    Code
	codeSet bool
	det     Details
	detSet  bool
	stack   stack.Stack
	stackSet bool

	msg  string
	meta []any
	err  error
}

// B starts a new Builder.
func B() *Builder { return &Builder{} }

func (b *Builder) Code(c Code) *Builder {
	b.code = c
	b.codeSet = true
	return b
}

func (b *Builder) Msg(msg string) *Builder {
	b.msg = msg
	return b
}

func (b *Builder) Msgf(format string, args ...any) *Builder {
	b.msg = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Meta(pairs ...any) *Builder {
	b.meta = append(b.meta, pairs...)
	return b
}

func (b *Builder) Details(d Details) *Builder {
	b.det = d
	b.detSet = true
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err = err
	if e, ok := err.(*Error); ok {
		if !b.codeSet {
			b.code = e.Code
		}
		if !b.detSet {
			b.det = e.Details
		}
	}
	return b
}

func (b *Builder) Stack(s stack.Stack) *Builder {
	b.stack = s
	b.stackSet = true
	return b
}

// Err materializes the built *Error. It never returns nil: an unset Code
// defaults to Unknown, and an unset Msg with no Cause defaults to
// "unknown error".
func (b *Builder) Err() error {
	code := b.code
	if code == OK {
		code = Unknown
	}

	msg := b.msg
	if msg == "" && b.err == nil {
		msg = "unknown error"
	}

	var meta Metadata
	s := b.stack
	if e, ok := b.err.(*Error); ok {
		if !b.stackSet {
			s = e.stack
		}
		meta = e.Meta
	} else if !b.stackSet {
		s = stack.Build(2)
	}

	return &Error{
		Code:       code,
		Message:    msg,
		Meta:       mergeMeta(meta, b.meta),
		Details:    b.det,
		underlying: b.err,
		stack:      s,
	}
}

func mergeMeta(md Metadata, pairs []any) Metadata {
	n := len(pairs)
	if n%2 != 0 {
		panic(fmt.Sprintf("errs: odd number (%d) of metadata key-values", n))
	}
	if md == nil && n > 0 {
		md = make(Metadata, n/2)
	}
	for i := 0; i < n; i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("errs: metadata key #%d is not a string (is %T)", i/2, pairs[i]))
		}
		md[key] = pairs[i+1]
	}
	return md
}
