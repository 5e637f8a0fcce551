// Package onnx runs wake-word models on ONNX Runtime through its C API.
//
// The package exposes the three runtime objects a scorer needs:
//
//   - [Env] is the process-wide runtime environment
//   - [Session] holds one loaded graph
//   - [Tensor] wraps a float32 OrtValue
//
// and a [Scorer] that plugs the runtime into the model package as the
// "onnx" backend:
//
//	import _ "github.com/haivivi/wakeword/pkg/onnx"
//
//	s, err := model.Open(artifact, model.BackendONNX)
//
// ONNX Runtime is linked dynamically (libonnxruntime.so / .dylib). Env is
// safe for concurrent use and Session.Run locks internally.
package onnx

/*
#cgo LDFLAGS: -lonnxruntime
#include <onnxruntime_c_api.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

static OrtStatus* ort_create_session_options(const OrtApi* api, int threads, OrtSessionOptions** out) {
    OrtStatus* status = api->CreateSessionOptions(out);
    if (status || threads <= 0) return status;
    return api->SetIntraOpNumThreads(*out, threads);
}

static OrtStatus* ort_create_session(const OrtApi* api, OrtEnv* env,
    const void* data, size_t len, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSessionFromArray(env, data, len, opts, out);
}

static OrtStatus* ort_create_cpu_memory_info(const OrtApi* api, OrtMemoryInfo** out) {
    return api->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, out);
}

static OrtStatus* ort_create_tensor_float(const OrtApi* api, OrtMemoryInfo* info,
    float* data, size_t n, int64_t* shape, size_t rank, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, n * sizeof(float),
        shape, rank, ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT, out);
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** in_names, const OrtValue* const* in, size_t n_in,
    const char** out_names, size_t n_out, OrtValue** out) {
    return api->Run(session, NULL, in_names, in, n_in, out_names, n_out, out);
}

static OrtStatus* ort_tensor_data(const OrtApi* api, OrtValue* v, float** out) {
    return api->GetTensorMutableData(v, (void**)out);
}

static OrtStatus* ort_tensor_rank(const OrtApi* api, OrtValue* v, size_t* rank) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(v, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, rank);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_tensor_dims(const OrtApi* api, OrtValue* v, int64_t* dims, size_t rank) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(v, &info);
    if (status) return status;
    status = api->GetDimensions(info, dims, rank);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static const char* ort_error_message(const OrtApi* api, OrtStatus* s) { return api->GetErrorMessage(s); }
static void ort_release_status(const OrtApi* api, OrtStatus* s) { api->ReleaseStatus(s); }
static void ort_release_env(const OrtApi* api, OrtEnv* e) { api->ReleaseEnv(e); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_memory_info(const OrtApi* api, OrtMemoryInfo* i) { api->ReleaseMemoryInfo(i); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"unsafe"
)

// ErrClosed is returned when using a released runtime object.
var ErrClosed = errors.New("onnx: closed")

func api() *C.OrtApi {
	return C.ort_api()
}

func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnx: %s", msg)
}

// Env is the ONNX Runtime environment. Create one per process.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a runtime environment with the given log identifier.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}
	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// SessionOptions tunes a session. The zero value uses runtime defaults.
type SessionOptions struct {
	// Threads caps intra-op parallelism. 0 keeps the runtime default.
	Threads int
}

// NewSession loads an ONNX graph from memory.
func (e *Env) NewSession(model []byte, opts SessionOptions) (*Session, error) {
	if e.env == nil {
		return nil, ErrClosed
	}
	if len(model) == 0 {
		return nil, fmt.Errorf("onnx: empty model data")
	}

	var so *C.OrtSessionOptions
	if err := checkStatus(C.ort_create_session_options(api(), C.int(opts.Threads), &so)); err != nil {
		return nil, err
	}
	defer C.ort_release_session_options(api(), so)

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session(
		api(), e.env,
		unsafe.Pointer(&model[0]), C.size_t(len(model)),
		so, &session,
	)); err != nil {
		return nil, err
	}
	s := &Session{session: session, pinned: model}
	runtime.SetFinalizer(s, (*Session).Close)
	return s, nil
}

// NewSessionFromFile loads an ONNX graph from path.
func (e *Env) NewSessionFromFile(path string, opts SessionOptions) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model: %w", err)
	}
	return e.NewSession(data, opts)
}

// Close releases the environment. It is safe to call twice.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// Session holds a loaded graph.
type Session struct {
	session *C.OrtSession
	pinned  any // keeps the model bytes alive
}

// Run evaluates the graph. The caller closes every returned tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if s.session == nil {
		return nil, ErrClosed
	}
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnx: %d input names for %d tensors", len(inputNames), len(inputs))
	}
	if len(inputs) == 0 || len(outputNames) == 0 {
		return nil, fmt.Errorf("onnx: run needs at least one input and one output")
	}

	cIn := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cIn[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cIn[i]))
	}
	values := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		values[i] = t.value
	}
	cOut := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOut[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOut[i]))
	}
	results := make([]*C.OrtValue, len(outputNames))

	if err := checkStatus(C.ort_run(api(), s.session,
		&cIn[0], &values[0], C.size_t(len(inputs)),
		&cOut[0], C.size_t(len(outputNames)), &results[0],
	)); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(results))
	for i, v := range results {
		outputs[i] = &Tensor{value: v}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// Close releases the session. It is safe to call twice.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// Tensor is a float32 OrtValue.
type Tensor struct {
	value  *C.OrtValue
	pinned any // keeps caller-owned data alive
}

// NewTensor wraps data with the given shape. data must stay unmodified
// while the tensor is in use.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	if len(data) == 0 || len(shape) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor")
	}
	total := int64(1)
	for _, d := range shape {
		total *= d
	}
	if int64(len(data)) != total {
		return nil, fmt.Errorf("onnx: shape %v needs %d values, got %d", shape, total, len(data))
	}

	var mem *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &mem)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), mem)

	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor_float(
		api(), mem,
		(*C.float)(unsafe.Pointer(&data[0])), C.size_t(len(data)),
		(*C.int64_t)(unsafe.Pointer(&shape[0])), C.size_t(len(shape)),
		&value,
	)); err != nil {
		return nil, err
	}
	t := &Tensor{value: value, pinned: data}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	if t.value == nil {
		return nil, ErrClosed
	}
	var rank C.size_t
	if err := checkStatus(C.ort_tensor_rank(api(), t.value, &rank)); err != nil {
		return nil, err
	}
	if rank == 0 {
		return nil, nil
	}
	dims := make([]int64, int(rank))
	if err := checkStatus(C.ort_tensor_dims(api(), t.value, (*C.int64_t)(unsafe.Pointer(&dims[0])), rank)); err != nil {
		return nil, err
	}
	return dims, nil
}

// FloatData copies the tensor contents into a new slice.
func (t *Tensor) FloatData() ([]float32, error) {
	dims, err := t.Shape()
	if err != nil {
		return nil, err
	}
	total := 1
	for _, d := range dims {
		total *= int(d)
	}
	if total <= 0 {
		return nil, nil
	}

	var ptr *C.float
	if err := checkStatus(C.ort_tensor_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	out := make([]float32, total)
	C.memcpy(unsafe.Pointer(&out[0]), unsafe.Pointer(ptr), C.size_t(total*4))
	return out, nil
}

// Close releases the tensor. It is safe to call twice.
func (t *Tensor) Close() error {
	if t.value != nil {
		C.ort_release_value(api(), t.value)
		t.value = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}
