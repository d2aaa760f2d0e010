package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvHost            = "HOST"
	EnvPort            = "PORT"
	EnvPassScore       = "PASS_SCORE"
	EnvModelNames      = "MODEL_NAMES"
	EnvModelPaths      = "MODEL_PATHS"
	EnvScalerPaths     = "SCALER_PATHS"
	EnvModelKinds      = "MODEL_KINDS"
	EnvMaxRequestBytes = "MAX_REQUEST_BYTES"
	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvMetricsPort     = "METRICS_PORT"
	EnvOnnxLibrary     = "ONNXRUNTIME_LIB"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogPretty       = "LOG_PRETTY"
	EnvS3Endpoint      = "S3_ENDPOINT"
	EnvS3Region        = "S3_REGION"
	EnvS3AccessKeyID   = "S3_ACCESS_KEY_ID"
	EnvS3SecretKey     = "S3_SECRET_ACCESS_KEY"
	EnvHTTPTimeout     = "HTTP_TIMEOUT"
)

// Configuration defaults
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 9999
	DefaultPassScore       = 1
	DefaultMaxRequestBytes = 1024
	DefaultMetricsPort     = 8080
	DefaultLogLevel        = "info"
	DefaultShutdownSeconds = 30
	DefaultHTTPSeconds     = 30
)

// Configuration limits
const (
	MaxRequestBytesLimit = 1 << 20
	MaxEnsembleSize      = 64
)
