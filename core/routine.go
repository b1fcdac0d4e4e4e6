package core

// RoutineConfig is the schedule of a routine start branch. The external task
// scheduler interprets it; the runtime only carries it through.
type RoutineConfig struct {
	Type     string         `json:"type,omitempty" yaml:"type" validate:"omitempty,oneof=no_repeat daily_repeat weekly_repeat monthly_repeat annually_repeat weekday_repeat custom_repeat"`
	Day      string         `json:"day,omitempty" yaml:"day"`
	Time     string         `json:"time,omitempty" yaml:"time"`
	Unit     string         `json:"unit,omitempty" yaml:"unit" validate:"omitempty,oneof=day week month year"`
	Interval int            `json:"interval,omitempty" yaml:"interval" validate:"gte=0"`
	Values   []any          `json:"values,omitempty" yaml:"values"`
	Deadline string         `json:"deadline,omitempty" yaml:"deadline"`
	Topic    map[string]any `json:"topic,omitempty" yaml:"topic"`
}
