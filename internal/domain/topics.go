package domain

import "fmt"

// ParticipationTopic is the per-user topic finalized participations are pushed on.
func ParticipationTopic(quizID int64) string {
	return fmt.Sprintf("/topic/exercise/%d/participation", quizID)
}

// StartTopic is the broadcast topic announcing a quiz release.
func StartTopic(quizID int64) string {
	return fmt.Sprintf("/topic/quiz/%d/start", quizID)
}
