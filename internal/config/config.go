package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDSensor    string
	MQTTClientIDConsole   string
	MQTTClientIDWeb       string
	MQTTClientIDCalibrate string

	// Topics
	TopicAccel         string
	TopicGyro          string
	TopicCalibProgress string
	TopicCalibCommand  string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	IMUUseMock   bool
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Environment sensor (BMP280, temperature reference for calibration)
	EnvSPIDevice string

	// Timing
	IMUSampleInterval int // milliseconds

	// Display
	DisplayEnabled bool
	DisplayI2CAddr uint16

	// Calibration store
	CalibStorePath string

	// Calibration tunables. The movement tolerance and stillness threshold
	// are deliberately configuration, not constants: their useful values
	// depend on gyro range and on whether the gyro is already calibrated.
	CalibQuickSamples       int
	CalibFullSamples        int
	CalibGravity            float64
	CalibMovementTolerance  float64
	CalibStillnessThreshold float64
	CalibRotationThreshold  float64 // degrees from vertical
	CalibStableDurationMS   int
	CalibRotationTimeoutMS  int
	CalibTempDriftLimit     float64 // °C, 0 disables temperature gating
	CalibGyroDeadband       float64
	CalibMinScale           float64
	CalibMaxScale           float64
	CalibProgressEvery      int

	// Web Server
	WebServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported (lowercase) so other packages cannot access it directly.
//     This enforces encapsulation and prevents external code from modifying config without proper locking.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock (Lock) for initialization,
//     read lock (RLock) for Get() allows multiple concurrent readers without blocking each other.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config pre-populated with the calibration tunables that
// worked on the reference hardware. Everything hardware- or broker-specific
// has no default and must appear in the config file.
func defaults() *Config {
	return &Config{
		MQTTClientIDSensor:    "motion-sensor",
		MQTTClientIDConsole:   "motion-console",
		MQTTClientIDWeb:       "motion-web",
		MQTTClientIDCalibrate: "motion-calibrate",

		TopicAccel:         "motion/accel",
		TopicGyro:          "motion/gyro",
		TopicCalibProgress: "motion/calibration/progress",
		TopicCalibCommand:  "motion/calibration/command",

		IMUAccelRange: 2, // ±8g
		IMUGyroRange:  0, // ±250°/s

		DisplayI2CAddr: 0x3C,

		CalibStorePath: "motion_calibration.bin",

		CalibQuickSamples:       200,
		CalibFullSamples:        1000,
		CalibGravity:            1.0,
		CalibMovementTolerance:  20.0,
		CalibStillnessThreshold: 5.1,
		CalibRotationThreshold:  70.0,
		CalibStableDurationMS:   1000,
		CalibRotationTimeoutMS:  30000,
		CalibTempDriftLimit:     2.0,
		CalibGyroDeadband:       0.05,
		CalibMinScale:           0.5,
		CalibMaxScale:           2.0,
		CalibProgressEvery:      10,

		WebServerPort: 8080,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_SENSOR":
		c.MQTTClientIDSensor = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CALIBRATE":
		c.MQTTClientIDCalibrate = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_GYRO":
		c.TopicGyro = value
	case "TOPIC_CALIB_PROGRESS":
		c.TopicCalibProgress = value
	case "TOPIC_CALIB_COMMAND":
		c.TopicCalibCommand = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_USE_MOCK":
		mock, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_USE_MOCK %q: %w", value, err)
		}
		c.IMUUseMock = mock
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// Environment sensor
	case "ENV_SPI_DEVICE":
		c.EnvSPIDevice = value

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.IMUSampleInterval = interval

	// Display
	case "DISPLAY_ENABLED":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
		c.DisplayEnabled = enabled
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)

	// Calibration store
	case "CALIB_STORE_PATH":
		c.CalibStorePath = value

	// Calibration tunables
	case "CALIB_QUICK_SAMPLES":
		return setPositiveInt(&c.CalibQuickSamples, key, value)
	case "CALIB_FULL_SAMPLES":
		return setPositiveInt(&c.CalibFullSamples, key, value)
	case "CALIB_GRAVITY":
		return setPositiveFloat(&c.CalibGravity, key, value)
	case "CALIB_MOVEMENT_TOLERANCE":
		return setPositiveFloat(&c.CalibMovementTolerance, key, value)
	case "CALIB_STILLNESS_THRESHOLD":
		return setPositiveFloat(&c.CalibStillnessThreshold, key, value)
	case "CALIB_ROTATION_THRESHOLD":
		return setPositiveFloat(&c.CalibRotationThreshold, key, value)
	case "CALIB_STABLE_DURATION_MS":
		return setPositiveInt(&c.CalibStableDurationMS, key, value)
	case "CALIB_ROTATION_TIMEOUT_MS":
		return setPositiveInt(&c.CalibRotationTimeoutMS, key, value)
	case "CALIB_TEMP_DRIFT_LIMIT":
		limit, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CALIB_TEMP_DRIFT_LIMIT %q: %w", value, err)
		}
		if limit < 0 {
			return fmt.Errorf("CALIB_TEMP_DRIFT_LIMIT must be >= 0 (0 disables), got %v", limit)
		}
		c.CalibTempDriftLimit = limit
	case "CALIB_GYRO_DEADBAND":
		return setPositiveFloat(&c.CalibGyroDeadband, key, value)
	case "CALIB_MIN_SCALE":
		return setPositiveFloat(&c.CalibMinScale, key, value)
	case "CALIB_MAX_SCALE":
		return setPositiveFloat(&c.CalibMaxScale, key, value)
	case "CALIB_PROGRESS_EVERY":
		return setPositiveInt(&c.CalibProgressEvery, key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositiveInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be > 0, got %d", key, v)
	}
	*dst = v
	return nil
}

func setPositiveFloat(dst *float64, key, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be > 0, got %v", key, v)
	}
	*dst = v
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.IMUUseMock && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required unless IMU_USE_MOCK=true")
	}
	if c.IMUSampleInterval == 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL is required")
	}
	if c.CalibMinScale >= c.CalibMaxScale {
		return fmt.Errorf("CALIB_MIN_SCALE (%v) must be below CALIB_MAX_SCALE (%v)", c.CalibMinScale, c.CalibMaxScale)
	}
	return nil
}

// StableDuration returns the stillness debounce duration.
func (c *Config) StableDuration() time.Duration {
	return time.Duration(c.CalibStableDurationMS) * time.Millisecond
}

// RotationTimeout returns the bound on the rotation wait phase.
func (c *Config) RotationTimeout() time.Duration {
	return time.Duration(c.CalibRotationTimeoutMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// Acquires write lock (configMu.Lock) during initialization to prevent concurrent access.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
// Uses read lock (configMu.RLock) to allow multiple concurrent readers without blocking.
// This is thread-safe and efficient for concurrent access across goroutines.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
