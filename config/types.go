package config

// BusConfig describes one CAN channel
type BusConfig struct {
	SysClock    uint32 // Sampler input clock (Hz)
	Bitrate     uint32 // Nominal bitrate (bit/s)
	Quanta      uint8  // Time quanta per bit
	SamplePoint uint8  // Quantum index of the sample point
	SJW         uint8  // Resynchronization jump width (quanta)
	MaxRetries  uint32 // Error retries per frame, 0 retries forever
	Channel     uint8  // Controller channel (PIO block)
	RxPin       uint8  // GPIO wired to the transceiver RX
	TxPin       uint8  // GPIO wired to the transceiver TX
}

// SerialConfig describes the USB serial link to the bridge firmware
type SerialConfig struct {
	Device      string // e.g. /dev/ttyACM0
	Baud        int    // Ignored by USB CDC but required by the driver
	ReadTimeout int    // Read timeout (ms)
	OpenRetries uint   // Attempts before giving up on open
}

// FrameConfig is a frame to send during a simulation
type FrameConfig struct {
	Frame string // "123#AABB" notation
	AtBit uint64 // Earliest bus bit time for the transmission
}

// NodeConfig is one simulated controller
type NodeConfig struct {
	Name       string
	Offset     uint64 // Quanta before the node sees the bus
	Skew       int    // Clock error: one quantum every |Skew| quanta, sign gives direction
	MaxRetries uint32
	Frames     []FrameConfig
}

// InjectConfig forces raw bits onto the simulated bus
type InjectConfig struct {
	AtBit uint64
	Bits  string // '0' dominant, '1' recessive (no effect)
}

// SimConfig is a scripted simulation
type SimConfig struct {
	Bits   int // Bit times to simulate
	Nodes  []NodeConfig
	Inject []InjectConfig
}

// Config is the complete configuration for the host tools
type Config struct {
	Bus       BusConfig
	Serial    SerialConfig
	SocketCAN string // Interface used by the bridge, e.g. "can0"
	Sim       SimConfig
}
