package runtime

import "fmt"

func (rp *RunParams) prefix() string {
	return fmt.Sprintf("run:%s:plan:%s:case:%s", rp.TestRun, rp.TestPlan, rp.TestCase)
}

// EventsKey is the topic carrying the lifecycle events of the whole run.
func (rp *RunParams) EventsKey() string {
	return rp.prefix() + ":run_events"
}

// TopicKey scopes a topic name to this run.
func (rp *RunParams) TopicKey(topic string) string {
	return rp.prefix() + ":topics:" + topic
}

// StateKey scopes a state name to this run.
func (rp *RunParams) StateKey(name string) string {
	return rp.prefix() + ":states:" + name
}
