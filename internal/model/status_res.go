package model

// StatusRes mirrors the /status/endpoint payload.
type StatusRes struct {
	Status          string `json:"status"`
	ActiveDeviceNum int    `json:"activeDeviceNum"`
	AllDeviceNum    int    `json:"allDeviceNum"`
}
