package model

import "github.com/aarondl/opt/null"

type StateStat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	N      int     `json:"n"`
}

// DriverBaseline is created once per (session, driver) and never mutated.
type DriverBaseline struct {
	Session       string               `json:"session"`
	Driver        string               `json:"driver"`
	SchemaVersion string               `json:"schemaVersion"`
	Laps          []int                `json:"laps"`
	Profile       map[string]float64   `json:"profile"`
	State         map[string]StateStat `json:"state"`
	FieldDefault  bool                 `json:"fieldDefault"` // built from the whole field as fallback
}

type StateDeviation struct {
	Session    string            `json:"session"`
	Driver     string            `json:"driver"`
	Lap        int               `json:"lap"`
	Metric     string            `json:"metric"`
	Current    float64           `json:"current"`
	BaseMean   float64           `json:"baseMean"`
	BaseStdDev float64           `json:"baseStdDev"`
	Z          null.Val[float64] `json:"z"` // unset if baseline spread is zero
}
