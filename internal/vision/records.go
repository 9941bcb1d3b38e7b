package vision

import (
	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
)

// record is one flight log row waiting for the writer. A nil twist means
// a pose row.
type record struct {
	kind  string
	pose  pose.Pose
	twist *pose.TwistStamped
}

// enqueueRecord hands r to the writer without blocking the cycle. A full
// queue drops the record.
func (s *Service) enqueueRecord(r record) {
	if s.sinks.Recorder == nil {
		return
	}
	select {
	case s.records <- r:
	default:
		if s.recordsDropped.Add(1) == 1 {
			monitoring.Logf("vision: flight log queue full, dropping records")
		}
	}
}

// writeRecords writes queued records until stop is closed, then writes
// whatever is still queued.
func (s *Service) writeRecords(stop <-chan struct{}) {
	for {
		select {
		case r := <-s.records:
			s.writeRecord(r)
		case <-stop:
			s.flushRecords()
			return
		}
	}
}

// flushRecords writes the records queued at the time of the call.
func (s *Service) flushRecords() {
	n := len(s.records)
	for i := 0; i < n; i++ {
		s.writeRecord(<-s.records)
	}
}

func (s *Service) writeRecord(r record) {
	var err error
	if r.twist != nil {
		err = s.sinks.Recorder.RecordTwist(r.kind, *r.twist)
	} else {
		err = s.sinks.Recorder.RecordPose(r.kind, r.pose)
	}
	if err == nil {
		if s.recordErr != "" {
			monitoring.Logf("vision: flight log write recovered")
			s.recordErr = ""
		}
		return
	}
	s.recordErrors.Add(1)
	if msg := err.Error(); msg != s.recordErr {
		monitoring.Logf("vision: flight log write failed: %v", err)
		s.recordErr = msg
	}
}
