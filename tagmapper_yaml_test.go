package tagmapper_test

import (
	"path/filepath"
	"testing"

	"go.viam.com/test"

	tagmapper "github.com/viamrobotics/viam-tag-mapper"
	"github.com/viamrobotics/viam-tag-mapper/testhelper"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults are applied", func(t *testing.T) {
		path := testhelper.CreateTempConfigFile(t, "static_transform: {x: 1, y: 2, z: 3, yaw_deg: 90}\n")
		cfg, err := tagmapper.LoadConfig(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.WorldFrame, test.ShouldEqual, "map")
		test.That(t, cfg.SensorFrame, test.ShouldEqual, "camera_link")
		test.That(t, cfg.PoseTopic, test.ShouldEqual, "tag_pose")
		test.That(t, cfg.MarkerTopic, test.ShouldEqual, "tag_marker")
		test.That(t, cfg.Namespace, test.ShouldEqual, "box")
		test.That(t, cfg.Publishers, test.ShouldResemble, []tagmapper.PublisherKind{tagmapper.LogPublisher})
		test.That(t, cfg.StaticTransform, test.ShouldResemble, &tagmapper.StaticTransform{X: 1, Y: 2, Z: 3, YawDeg: 90})
	})

	t.Run("Every field is read", func(t *testing.T) {
		path := testhelper.CreateTempConfigFile(t, `
world_frame: odom
sensor_frame: front_cam
pose_topic: poses
marker_topic: markers
namespace: tags
publishers: [log, file]
marker_file: /tmp/markers.yaml
health_address: localhost:0
config_params:
  rate_hz: "30"
  retry_delay_ms: "250"
`)
		cfg, err := tagmapper.LoadConfig(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg, test.ShouldResemble, &tagmapper.Config{
			WorldFrame:    "odom",
			SensorFrame:   "front_cam",
			PoseTopic:     "poses",
			MarkerTopic:   "markers",
			Namespace:     "tags",
			Publishers:    []tagmapper.PublisherKind{tagmapper.LogPublisher, tagmapper.FilePublisher},
			MarkerFile:    "/tmp/markers.yaml",
			HealthAddress: "localhost:0",
			ConfigParams:  map[string]string{"rate_hz": "30", "retry_delay_ms": "250"},
		})
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := tagmapper.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error reading config file")
	})

	t.Run("Unknown field", func(t *testing.T) {
		path := testhelper.CreateTempConfigFile(t, "world_frame: map\nsensor_frme: camera_link\n")
		_, err := tagmapper.LoadConfig(path)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error parsing config file")
	})

	for _, tc := range []struct {
		name     string
		contents string
		expected string
	}{
		{"Identical frames", "world_frame: cam\nsensor_frame: cam\n", "must differ"},
		{"Unknown publisher", "publishers: [rviz]\n", `publisher "rviz" is not one of`},
		{"File publisher without a file", "publishers: [file]\n", "requires marker_file"},
		{"Non-finite static transform", "static_transform: {x: .nan, y: 0, z: 0, yaw_deg: 0}\n", "static_transform"},
		{"Infinite static yaw", "static_transform: {x: 0, y: 0, z: 0, yaw_deg: .inf}\n", "invalid geometry"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := testhelper.CreateTempConfigFile(t, tc.contents)
			_, err := tagmapper.LoadConfig(path)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, "invalid config file")
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
		})
	}
}
