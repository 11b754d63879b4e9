package server

import (
	"fmt"
	"reflect"

	"rpcx/message"
	"rpcx/param"
)

// methodType stores the reflection metadata for a single RPC-compatible
// method, unchanged in shape from the teacher's server/service.go.
type methodType struct {
	method    reflect.Method // The reflected method itself
	ArgType   reflect.Type   // Type of the first argument (e.g., *Args → Args)
	ReplyType reflect.Type   // Type of the second argument (e.g., *Reply → Reply)
}

// service wraps a user-defined struct (e.g., &Arith{}) and its RPC-compatible methods.
type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// newService validates rcvr and scans its exported methods for the
// signature func(*Args, *Reply) error, exactly as the teacher's
// NewService/RegisterMethods do.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)

	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpcx: rcvr must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpcx: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}

	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	return srv, nil
}

// registerMethods scans all exported methods of the struct and registers
// those matching func(receiver)(args *ArgsType, reply *ReplyType) error.
// Methods that don't match are silently skipped.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)

		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 {
			continue
		}
		if method.Type.Out(0) != errorType {
			continue
		}
		if method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

func (s *service) call(mType *methodType, argv, replyv reflect.Value) error {
	results := mType.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// handlerFor derives the erased Handler for one method: decode the typed
// argument under kind, invoke the method via reflection, encode the typed
// reply under the same kind. This is the "small helper that, given a typed
// handler (A) -> B ..., returns the erased (bytes, kind) -> Result<bytes>"
// design note from spec.md §9, grounded on the teacher's
// server.businessHandler reflect.New/Call/Marshal sequence.
func handlerFor(s *service, mt *methodType) Handler {
	return func(payload []byte, kind message.SerializeKind) ([]byte, error) {
		codec, err := param.CodecFor(kind)
		if err != nil {
			return nil, err
		}

		argv := reflect.New(mt.ArgType)
		if err := codec.Unmarshal(payload, argv.Interface()); err != nil {
			return nil, err
		}

		replyv := reflect.New(mt.ReplyType)
		if err := s.call(mt, argv, replyv); err != nil {
			return nil, err
		}

		return codec.Marshal(replyv.Interface())
	}
}
