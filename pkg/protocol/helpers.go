package protocol

import (
	"encoding/json"
	"time"
)

// Topic names used by navtest.
const (
	TopicCmdVel       = "/cmd_vel"
	TopicInitialPose  = "/initialpose"
	TopicMarkerPose   = "/aruco_single/pose"
	TopicMoveBaseGoal = "/move_base/goal"
	TopicMoveBaseStat = "/move_base/status"
	TopicMoveBaseRes  = "/move_base/result"
	TopicMoveBaseCanc = "/move_base/cancel"
)

// ROS message type names.
const (
	TypeTwist           = "geometry_msgs/Twist"
	TypePoseStamped     = "geometry_msgs/PoseStamped"
	TypePoseWithCovStmp = "geometry_msgs/PoseWithCovarianceStamped"
	TypeMoveBaseGoal    = "move_base_msgs/MoveBaseActionGoal"
	TypeMoveBaseResult  = "move_base_msgs/MoveBaseActionResult"
	TypeGoalStatusArray = "actionlib_msgs/GoalStatusArray"
	TypeGoalID          = "actionlib_msgs/GoalID"
)

// =============================================================================
// std_msgs / geometry_msgs
// =============================================================================

// Time is a ROS time stamp.
type Time struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// Stamp converts t into a ROS time stamp.
func Stamp(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{Secs: t.Unix(), Nsecs: int64(t.Nanosecond())}
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Vector3 is geometry_msgs/Vector3 and geometry_msgs/Point.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is geometry_msgs/Pose.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PoseStamped is geometry_msgs/PoseStamped.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// PoseWithCovariance is geometry_msgs/PoseWithCovariance.
type PoseWithCovariance struct {
	Pose       Pose        `json:"pose"`
	Covariance [36]float64 `json:"covariance"`
}

// PoseWithCovarianceStamped is geometry_msgs/PoseWithCovarianceStamped.
type PoseWithCovarianceStamped struct {
	Header Header             `json:"header"`
	Pose   PoseWithCovariance `json:"pose"`
}

// Twist is geometry_msgs/Twist.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// =============================================================================
// actionlib_msgs / move_base_msgs
// =============================================================================

// GoalID is actionlib_msgs/GoalID.
type GoalID struct {
	Stamp Time   `json:"stamp"`
	ID    string `json:"id"`
}

// GoalStatus is actionlib_msgs/GoalStatus.
type GoalStatus struct {
	GoalID GoalID `json:"goal_id"`
	Status uint8  `json:"status"`
	Text   string `json:"text"`
}

// GoalStatusArray is actionlib_msgs/GoalStatusArray.
type GoalStatusArray struct {
	Header     Header       `json:"header"`
	StatusList []GoalStatus `json:"status_list"`
}

// MoveBaseGoal is move_base_msgs/MoveBaseGoal.
type MoveBaseGoal struct {
	TargetPose PoseStamped `json:"target_pose"`
}

// MoveBaseActionGoal is move_base_msgs/MoveBaseActionGoal.
type MoveBaseActionGoal struct {
	Header Header       `json:"header"`
	GoalID GoalID       `json:"goal_id"`
	Goal   MoveBaseGoal `json:"goal"`
}

// MoveBaseActionResult is move_base_msgs/MoveBaseActionResult. The result
// body of move_base is empty.
type MoveBaseActionResult struct {
	Header Header          `json:"header"`
	Status GoalStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// =============================================================================
// Typed payload accessors
// =============================================================================

// GetPoseStamped extracts a PoseStamped payload.
func (m *Message) GetPoseStamped() (*PoseStamped, error) {
	var v PoseStamped
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetPoseWithCovarianceStamped extracts an initial-pose payload.
func (m *Message) GetPoseWithCovarianceStamped() (*PoseWithCovarianceStamped, error) {
	var v PoseWithCovarianceStamped
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetTwist extracts a Twist payload.
func (m *Message) GetTwist() (*Twist, error) {
	var v Twist
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetGoalStatusArray extracts a status array payload.
func (m *Message) GetGoalStatusArray() (*GoalStatusArray, error) {
	var v GoalStatusArray
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetMoveBaseActionGoal extracts a goal payload.
func (m *Message) GetMoveBaseActionGoal() (*MoveBaseActionGoal, error) {
	var v MoveBaseActionGoal
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetMoveBaseActionResult extracts a result payload.
func (m *Message) GetMoveBaseActionResult() (*MoveBaseActionResult, error) {
	var v MoveBaseActionResult
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetGoalID extracts a cancel request payload.
func (m *Message) GetGoalID() (*GoalID, error) {
	var v GoalID
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
