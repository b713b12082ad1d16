package layout

// Target describes the ABI target triple and its pointer properties.
type Target struct {
	Triple     string // e.g. "nvptx64-nvidia-cuda"
	DataLayout string // LLVM datalayout string, empty for the default
	PtrSize    int    // bytes
	PtrAlign   int    // bytes
}

// NVPTX64 is the 64-bit CUDA device target.
func NVPTX64() Target {
	return Target{
		Triple:     "nvptx64-nvidia-cuda",
		DataLayout: "e-p:64:64:64-i1:8:8-i8:8:8-i16:16:16-i32:32:32-i64:64:64-f32:32:32-f64:64:64-v16:16:16-v32:32:32-v64:64:64-v128:128:128-n16:32:64",
		PtrSize:    8,
		PtrAlign:   8,
	}
}

// X86_64LinuxGNU is the host target, used when emitting IR for inspection.
func X86_64LinuxGNU() Target {
	return Target{
		Triple:   "x86_64-linux-gnu",
		PtrSize:  8,
		PtrAlign: 8,
	}
}

// TargetByTriple returns a known target, or false.
func TargetByTriple(triple string) (Target, bool) {
	switch triple {
	case "", NVPTX64().Triple:
		return NVPTX64(), true
	case X86_64LinuxGNU().Triple:
		return X86_64LinuxGNU(), true
	}
	return Target{}, false
}
