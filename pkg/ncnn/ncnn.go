// Package ncnn runs wake-word models on the ncnn inference framework.
//
// It wraps the subset of the ncnn C API a scorer needs: [Net] (.param
// graph + .bin weights), [Option], [Extractor] and 2D [Mat]. [Scorer]
// registers it with the model package as the "ncnn" backend:
//
//	import _ "github.com/haivivi/wakeword/pkg/ncnn"
//
//	s, err := model.Open(artifact, model.BackendNCNN)
//
// A Net is safe for concurrent use by several Extractors; each Extractor
// belongs to one goroutine.
package ncnn

/*
#cgo pkg-config: ncnn
#include <ncnn/c_api.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"
)

// Version returns the ncnn library version string.
func Version() string {
	return C.GoString(C.ncnn_version())
}

// Net holds a loaded ncnn model.
type Net struct {
	net C.ncnn_net_t
}

// NewNet loads a model from .param and .bin files. The option, if any,
// is applied before loading since ncnn reads it during load.
func NewNet(paramPath, binPath string, opt *Option) (*Net, error) {
	param, err := os.ReadFile(paramPath)
	if err != nil {
		return nil, fmt.Errorf("ncnn: read param: %w", err)
	}
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("ncnn: read bin: %w", err)
	}
	return NewNetFromMemory(param, bin, opt)
}

// NewNetFromMemory loads a model from the text of a .param file and the
// bytes of a .bin file.
func NewNetFromMemory(param, bin []byte, opt *Option) (*Net, error) {
	if len(param) == 0 {
		return nil, fmt.Errorf("ncnn: empty param data")
	}
	if len(bin) == 0 {
		return nil, fmt.Errorf("ncnn: empty bin data")
	}

	n := &Net{net: C.ncnn_net_create()}
	if n.net == nil {
		return nil, fmt.Errorf("ncnn: net_create failed")
	}
	if opt != nil {
		C.ncnn_net_set_option(n.net, opt.opt)
	}

	cParam := C.CString(string(param))
	defer C.free(unsafe.Pointer(cParam))
	if ret := C.ncnn_net_load_param_memory(n.net, cParam); ret != 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_param_memory: %d", ret)
	}
	// Returns the number of bytes consumed, negative on error.
	if ret := C.ncnn_net_load_model_memory(n.net, (*C.uchar)(unsafe.Pointer(&bin[0]))); ret < 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_model_memory: %d", ret)
	}

	runtime.SetFinalizer(n, (*Net).Close)
	return n, nil
}

// NewExtractor creates an inference session. The caller closes it.
func (n *Net) NewExtractor() (*Extractor, error) {
	if n.net == nil {
		return nil, ErrClosed
	}
	ex := C.ncnn_extractor_create(n.net)
	if ex == nil {
		return nil, fmt.Errorf("ncnn: extractor_create failed")
	}
	e := &Extractor{ex: ex}
	runtime.SetFinalizer(e, (*Extractor).Close)
	return e, nil
}

// Close releases the network. It is safe to call twice.
func (n *Net) Close() error {
	if n.net != nil {
		C.ncnn_net_destroy(n.net)
		n.net = nil
		runtime.SetFinalizer(n, nil)
	}
	return nil
}

// Option configures a Net before loading.
type Option struct {
	opt C.ncnn_option_t
}

// NewOption creates an Option with ncnn defaults, or nil if allocation fails.
func NewOption() *Option {
	opt := C.ncnn_option_create()
	if opt == nil {
		return nil
	}
	o := &Option{opt: opt}
	runtime.SetFinalizer(o, (*Option).Close)
	return o
}

// SetFP16 toggles fp16 storage and arithmetic. Small recurrent models keep
// it off so their sigmoid outputs stay in range.
func (o *Option) SetFP16(enabled bool) *Option {
	v := C.int(0)
	if enabled {
		v = 1
	}
	C.ncnn_option_set_use_fp16_packed(o.opt, v)
	C.ncnn_option_set_use_fp16_storage(o.opt, v)
	C.ncnn_option_set_use_fp16_arithmetic(o.opt, v)
	return o
}

// SetNumThreads sets the CPU threads used per extraction.
func (o *Option) SetNumThreads(n int) *Option {
	C.ncnn_option_set_num_threads(o.opt, C.int(n))
	return o
}

// Close releases the option. It is safe to call twice.
func (o *Option) Close() error {
	if o.opt != nil {
		C.ncnn_option_destroy(o.opt)
		o.opt = nil
		runtime.SetFinalizer(o, nil)
	}
	return nil
}

// Extractor runs one inference on a Net.
type Extractor struct {
	ex C.ncnn_extractor_t
}

// SetInput binds mat to the named input blob.
func (e *Extractor) SetInput(name string, mat *Mat) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	if ret := C.ncnn_extractor_input(e.ex, cName, mat.mat); ret != 0 {
		return fmt.Errorf("ncnn: extractor_input %q: %d", name, ret)
	}
	return nil
}

// Extract computes the named output blob. The caller closes the Mat.
func (e *Extractor) Extract(name string) (*Mat, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var m C.ncnn_mat_t
	if ret := C.ncnn_extractor_extract(e.ex, cName, &m); ret != 0 {
		return nil, fmt.Errorf("ncnn: extractor_extract %q: %d", name, ret)
	}
	mat := &Mat{mat: m}
	runtime.SetFinalizer(mat, (*Mat).Close)
	return mat, nil
}

// Close releases the extractor. It is safe to call twice.
func (e *Extractor) Close() error {
	if e.ex != nil {
		C.ncnn_extractor_destroy(e.ex)
		e.ex = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// Mat is an ncnn tensor.
type Mat struct {
	mat    C.ncnn_mat_t
	pinned any
}

// NewMat2D wraps data as h rows of w columns. data must stay unmodified
// while the Mat is in use.
func NewMat2D(w, h int, data []float32) (*Mat, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("ncnn: bad mat size %dx%d", w, h)
	}
	if len(data) != w*h {
		return nil, fmt.Errorf("ncnn: mat %dx%d needs %d values, got %d", w, h, w*h, len(data))
	}
	mat := C.ncnn_mat_create_external_2d(C.int(w), C.int(h), unsafe.Pointer(&data[0]), nil)
	if mat == nil {
		return nil, fmt.Errorf("ncnn: mat_create_external_2d failed")
	}
	m := &Mat{mat: mat, pinned: data}
	runtime.SetFinalizer(m, (*Mat).Close)
	return m, nil
}

// W returns the width.
func (m *Mat) W() int { return int(C.ncnn_mat_get_w(m.mat)) }

// H returns the height.
func (m *Mat) H() int { return int(C.ncnn_mat_get_h(m.mat)) }

// C returns the channel count.
func (m *Mat) C() int { return int(C.ncnn_mat_get_c(m.mat)) }

// FloatData copies W*H*C values into a new slice.
func (m *Mat) FloatData() []float32 {
	ptr := C.ncnn_mat_get_data(m.mat)
	if ptr == nil {
		return nil
	}
	n := max(m.W(), 1) * max(m.H(), 1) * max(m.C(), 1)
	out := make([]float32, n)
	C.memcpy(unsafe.Pointer(&out[0]), ptr, C.size_t(n*4))
	return out
}

// Close releases the Mat. It is safe to call twice.
func (m *Mat) Close() error {
	if m.mat != nil {
		C.ncnn_mat_destroy(m.mat)
		m.mat = nil
		runtime.SetFinalizer(m, nil)
	}
	return nil
}
