package nodelib

// #cgo LDFLAGS: -ldl
// #include <dlfcn.h>
// #include <stdint.h>
// #include <stdlib.h>
// #include <string.h>
//
// typedef struct pc_tensor {
//     char*    name;
//     uint8_t* data;
//     uint64_t data_bytes;
//     uint64_t* dims;
//     uint64_t dims_count;
//     uint32_t precision;
// } pc_tensor;
//
// typedef struct pc_param {
//     char* key;
//     char* value;
// } pc_param;
//
// typedef int (*pc_execute_fn)(const pc_tensor* inputs, int inputs_count,
//                              pc_tensor** outputs, int* outputs_count,
//                              const pc_param* params, int params_count);
// typedef int (*pc_get_info_fn)(pc_tensor** info, int* info_count,
//                               const pc_param* params, int params_count);
// typedef int (*pc_release_fn)(void* ptr);
//
// static int pc_call_execute(void* fn, const pc_tensor* inputs, int inputs_count,
//                            pc_tensor** outputs, int* outputs_count,
//                            const pc_param* params, int params_count) {
//     return ((pc_execute_fn)fn)(inputs, inputs_count, outputs, outputs_count, params, params_count);
// }
// static int pc_call_get_info(void* fn, pc_tensor** info, int* info_count,
//                             const pc_param* params, int params_count) {
//     return ((pc_get_info_fn)fn)(info, info_count, params, params_count);
// }
// static int pc_call_release(void* fn, void* ptr) {
//     return ((pc_release_fn)fn)(ptr);
// }
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// DynamicLibrary is a NodeLibrary loaded from a shared object on disk
// via the four-function ABI.
type DynamicLibrary struct {
	path string

	handle         unsafe.Pointer
	execute        unsafe.Pointer
	getInputsInfo  unsafe.Pointer
	getOutputsInfo unsafe.Pointer
	release        unsafe.Pointer
}

var _ Library = (*DynamicLibrary)(nil)

// ValidatePath enforces the library-path rule: the library must
// resolve to a regular file inside allowedRoot, with no ".." component.
func ValidatePath(allowedRoot, libPath string) error {
	if strings.Contains(libPath, "..") {
		return status.New(status.NodeLibraryInvalidPath, "library path %q contains '..'", libPath)
	}
	abs, err := filepath.Abs(filepath.Join(allowedRoot, libPath))
	if err != nil {
		return status.New(status.NodeLibraryInvalidPath, "resolving %q: %v", libPath, err)
	}
	rootAbs, err := filepath.Abs(allowedRoot)
	if err != nil {
		return status.New(status.NodeLibraryInvalidPath, "resolving root %q: %v", allowedRoot, err)
	}
	if !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) && abs != rootAbs {
		return status.New(status.NodeLibraryInvalidPath, "library path %q escapes allowed root %q", libPath, allowedRoot)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return status.New(status.NodeLibraryInvalidPath, "statting %q: %v", abs, err)
	}
	if !info.Mode().IsRegular() {
		return status.New(status.NodeLibraryInvalidPath, "%q is not a regular file", abs)
	}
	return nil
}

// Load dlopens the shared object at path (already validated against an
// allowed root by the caller) and resolves all four required symbols.
// All four must resolve or loading fails with NodeLibraryMissingSymbols.
func Load(path string) (*DynamicLibrary, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, status.New(status.NodeLibraryInvalidPath, "dlopen(%q): %s", path, C.GoString(C.dlerror()))
	}

	lib := &DynamicLibrary{path: path, handle: handle}

	var missing []string
	lib.execute = lib.sym("execute", &missing)
	lib.getInputsInfo = lib.sym("getInputsInfo", &missing)
	lib.getOutputsInfo = lib.sym("getOutputsInfo", &missing)
	lib.release = lib.sym("release", &missing)

	if len(missing) > 0 {
		C.dlclose(handle)
		return nil, status.New(status.NodeLibraryMissingSymbols, "library %q missing symbols: %s", path, strings.Join(missing, ", "))
	}

	return lib, nil
}

func (l *DynamicLibrary) sym(name string, missing *[]string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	p := C.dlsym(l.handle, cname)
	if p == nil {
		*missing = append(*missing, name)
	}
	return p
}

func (l *DynamicLibrary) Name() string { return l.path }

// Unload dlcloses the shared object. The registry calls this only once
// every user of the handle and the registry itself have dropped their
// share.
func (l *DynamicLibrary) Unload() error {
	if l.handle == nil {
		return nil
	}
	if C.dlclose(l.handle) != 0 {
		return fmt.Errorf("dlclose(%q): %s", l.path, C.GoString(C.dlerror()))
	}
	l.handle = nil
	return nil
}

func toCParams(params []Param) ([]C.pc_param, func()) {
	cparams := make([]C.pc_param, len(params))
	var cstrs []unsafe.Pointer
	for i, p := range params {
		k := C.CString(p.Key)
		v := C.CString(p.Value)
		cparams[i] = C.pc_param{key: k, value: v}
		cstrs = append(cstrs, unsafe.Pointer(k), unsafe.Pointer(v))
	}
	return cparams, func() {
		for _, p := range cstrs {
			C.free(p)
		}
	}
}

func infoFromC(raw *C.pc_tensor, n C.int) []TensorInfo {
	out := make([]TensorInfo, 0, int(n))
	items := unsafe.Slice(raw, int(n))
	for _, it := range items {
		dims := unsafe.Slice(it.dims, int(it.dims_count))
		dimsCopy := make([]int64, len(dims))
		for i, d := range dims {
			dimsCopy[i] = int64(d)
		}
		out = append(out, TensorInfo{
			Name:      C.GoString(it.name),
			Dims:      dimsCopy,
			Precision: tensor.Precision(it.precision),
		})
	}
	return out
}

// GetInputsInfo calls the library's getInputsInfo symbol.
func (l *DynamicLibrary) GetInputsInfo(params []Param) ([]TensorInfo, error) {
	return l.getInfo(l.getInputsInfo, params)
}

// GetOutputsInfo calls the library's getOutputsInfo symbol.
func (l *DynamicLibrary) GetOutputsInfo(params []Param) ([]TensorInfo, error) {
	return l.getInfo(l.getOutputsInfo, params)
}

func (l *DynamicLibrary) getInfo(fn unsafe.Pointer, params []Param) ([]TensorInfo, error) {
	cparams, freeParams := toCParams(params)
	defer freeParams()

	var info *C.pc_tensor
	var count C.int
	var paramsPtr *C.pc_param
	if len(cparams) > 0 {
		paramsPtr = &cparams[0]
	}
	rc := C.pc_call_get_info(fn, &info, &count, paramsPtr, C.int(len(cparams)))
	if rc != 0 {
		return nil, status.New(status.NodeLibraryExecutionFailed, "library %q info call returned %d", l.path, int(rc))
	}
	defer func() {
		if info != nil {
			C.pc_call_release(l.release, unsafe.Pointer(info))
		}
	}()
	return infoFromC(info, count), nil
}

// Execute calls the library's execute symbol and wraps every produced
// output as a Tensor backed by native memory, owned by this library.
func (l *DynamicLibrary) Execute(inputs []NamedTensor, params []Param) (*ExecuteResult, error) {
	cinputs := make([]C.pc_tensor, len(inputs))
	var pinned []unsafe.Pointer
	for i, in := range inputs {
		name := C.CString(in.Name)
		pinned = append(pinned, unsafe.Pointer(name))
		dims := make([]C.uint64_t, len(in.Tensor.Dims))
		for j, d := range in.Tensor.Dims {
			dims[j] = C.uint64_t(d)
		}
		var dataPtr *C.uint8_t
		if len(in.Tensor.Data) > 0 {
			dataPtr = (*C.uint8_t)(unsafe.Pointer(&in.Tensor.Data[0]))
		}
		var dimsPtr *C.uint64_t
		if len(dims) > 0 {
			dimsPtr = &dims[0]
		}
		cinputs[i] = C.pc_tensor{
			name:       name,
			data:       dataPtr,
			data_bytes: C.uint64_t(len(in.Tensor.Data)),
			dims:       dimsPtr,
			dims_count: C.uint64_t(len(dims)),
			precision:  C.uint32_t(in.Tensor.Precision),
		}
	}
	defer func() {
		for _, p := range pinned {
			C.free(p)
		}
	}()

	cparams, freeParams := toCParams(params)
	defer freeParams()

	var outputs *C.pc_tensor
	var outputsCount C.int
	var inputsPtr *C.pc_tensor
	if len(cinputs) > 0 {
		inputsPtr = &cinputs[0]
	}
	var paramsPtr *C.pc_param
	if len(cparams) > 0 {
		paramsPtr = &cparams[0]
	}

	rc := C.pc_call_execute(l.execute, inputsPtr, C.int(len(cinputs)), &outputs, &outputsCount, paramsPtr, C.int(len(cparams)))
	if rc != 0 {
		return nil, status.New(status.NodeLibraryExecutionFailed, "library %q execute returned %d", l.path, int(rc))
	}
	if outputs == nil && outputsCount > 0 {
		return nil, status.New(status.NodeLibraryOutputsCorrupted, "library %q returned null outputs with count %d", l.path, int(outputsCount))
	}
	if outputs != nil && outputsCount <= 0 {
		return nil, status.New(status.NodeLibraryOutputsCorruptedCount, "library %q returned non-null outputs with count %d", l.path, int(outputsCount))
	}

	// Copy every output's data and dims into Go-owned memory up front:
	// holding a live unsafe.Pointer into the library's heap for the
	// lifetime of a Tensor that may outlive this call (across the
	// scheduler, possibly across a demultiplex shard boundary) is a
	// use-after-free hazard the core cannot make safe, so the ABI
	// boundary is where the copy happens. Once copied, every native
	// allocation this call produced (array base, and each output's data
	// and dims buffers) has nothing left to read from it and is
	// released immediately: exactly once per output buffer, per dims
	// buffer, and per array base pointer, as early as the call makes
	// possible.
	items := unsafe.Slice(outputs, int(outputsCount))
	named := make([]NamedTensor, 0, len(items))
	for _, it := range items {
		dims := unsafe.Slice(it.dims, int(it.dims_count))
		dimsCopy := make([]int64, len(dims))
		for i, d := range dims {
			dimsCopy[i] = int64(d)
		}
		data := make([]byte, int(it.data_bytes))
		if it.data_bytes > 0 {
			copy(data, unsafe.Slice((*byte)(unsafe.Pointer(it.data)), int(it.data_bytes)))
		}

		if it.data != nil {
			if C.pc_call_release(l.release, unsafe.Pointer(it.data)) != 0 {
				return nil, fmt.Errorf("releasing output data buffer for %q", l.path)
			}
		}
		if it.dims != nil {
			if C.pc_call_release(l.release, unsafe.Pointer(it.dims)) != 0 {
				return nil, fmt.Errorf("releasing output dims buffer for %q", l.path)
			}
		}

		t, err := tensor.New(tensor.Precision(it.precision), dimsCopy, data, NewOutputOwner(l))
		if err != nil {
			return nil, status.New(status.NodeLibraryInvalidShape, "output %q from library %q: %v", C.GoString(it.name), l.path, err)
		}
		named = append(named, NamedTensor{Name: C.GoString(it.name), Tensor: t})
	}
	if outputs != nil {
		if C.pc_call_release(l.release, unsafe.Pointer(outputs)) != 0 {
			return nil, fmt.Errorf("releasing output array base pointer for %q", l.path)
		}
	}

	return newExecuteResult(named), nil
}
