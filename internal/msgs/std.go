package msgs

// Time is a point in time as seconds and nanoseconds.
type Time struct {
	Secs  int32 `json:"secs" yaml:"secs"`
	Nsecs int32 `json:"nsecs" yaml:"nsecs"`
}

// Header carries sequence, timestamp and coordinate frame.
type Header struct {
	Seq     uint32 `json:"seq" yaml:"seq"`
	Stamp   Time   `json:"stamp" yaml:"stamp"`
	FrameID string `json:"frame_id" yaml:"frame_id"`
}

// Bool is std_msgs/Bool.
type Bool struct {
	Data bool `json:"data" yaml:"data"`
}

// String is std_msgs/String.
type String struct {
	Data string `json:"data" yaml:"data"`
}

// Int32 is std_msgs/Int32.
type Int32 struct {
	Data int32 `json:"data" yaml:"data"`
}

// Int64 is std_msgs/Int64.
type Int64 struct {
	Data int64 `json:"data" yaml:"data"`
}

// Float32 is std_msgs/Float32.
type Float32 struct {
	Data float32 `json:"data" yaml:"data"`
}

// Float64 is std_msgs/Float64.
type Float64 struct {
	Data float64 `json:"data" yaml:"data"`
}

// Empty is std_msgs/Empty.
type Empty struct{}
