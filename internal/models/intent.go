// Package models defines intent classification types shared between the
// classifier and the orchestrator.
package models

import "time"

// Intent is the classified purpose of a free-text inbound message.
type Intent string

const (
	IntentNewLead   Intent = "NEW_LEAD"   // first-time inquiry or interest in joining
	IntentBooking   Intent = "BOOKING"    // wants to schedule a class
	IntentFAQ       Intent = "FAQ"        // price, location, hours, facilities
	IntentHumanHelp Intent = "HUMAN_HELP" // frustrated or asking for a manager
	IntentGreeting  Intent = "GREETING"   // simple hello
	IntentWorkout   Intent = "WORKOUT"    // asking about workouts
	IntentDiet      Intent = "DIET"       // asking about diet or nutrition
	IntentProgress  Intent = "PROGRESS"   // checking progress or stats
	IntentCancel    Intent = "CANCEL"     // cancel a booking
	IntentGeneral   Intent = "GENERAL"    // general fitness questions
	IntentOffTopic  Intent = "OFF_TOPIC"  // non-fitness topics
)

// IntentResult is the classifier's verdict on one message.
type IntentResult struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   BookingDetails `json:"entities,omitempty"`
}

// BookingDetails are the entities extracted from a natural-language booking
// request ("yoga tomorrow at 5pm").
type BookingDetails struct {
	ClassName       string     `json:"class_name,omitempty"`
	BookingTime     *time.Time `json:"booking_time,omitempty"`
	TimeDescription string     `json:"time_description,omitempty"`
	Parsed          bool       `json:"parsed_successfully"`
}
