package commands

// Model runtimes selectable with model.backend. The native backend is
// always registered by the model package.
import (
	_ "github.com/haivivi/wakeword/pkg/ncnn"
	_ "github.com/haivivi/wakeword/pkg/onnx"
)
