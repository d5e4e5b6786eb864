package workflow

import "time"

// Recorder receives run statistics
type Recorder interface {
	StageDuration(stage string, d time.Duration)
	IdeaSkipped()
	PostGenerated()
	PostFailed(stage string)
	PostPublished()
}

type nopRecorder struct{}

func (nopRecorder) StageDuration(string, time.Duration) {}
func (nopRecorder) IdeaSkipped()                        {}
func (nopRecorder) PostGenerated()                      {}
func (nopRecorder) PostFailed(string)                   {}
func (nopRecorder) PostPublished()                      {}
