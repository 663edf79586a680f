package bus

// Topics.
const (
	TopicScene     = "scene"
	TopicSelection = "selection"
	TopicRobot     = "robot"
	TopicSim       = "sim"
)

// Event types.
const (
	// TypeOriginUpdateRequest carries reconciler patches for the scene store.
	TypeOriginUpdateRequest = "scene.origin_update_request"
	TypeSceneLoaded         = "scene.loaded"
	TypeSceneLoadFailed     = "scene.load_failed"
	TypeSceneDiscarded      = "scene.discarded"

	TypeSelect   = "selection.select"
	TypeUnselect = "selection.unselect"

	TypeTelemetry = "robot.telemetry"

	TypeLifecycle = "sim.lifecycle"
)

// Sources tag where a change came from.
const (
	SourceUser    = "user"
	SourcePhysics = "physics"
	SourceLoad    = "load"
	SourceSim     = "sim"
)
