package dto

// QuotaInfo 匿名设备配额信息
type QuotaInfo struct {
	DeviceID string           `json:"deviceId"`
	Period   string           `json:"period"`
	Usage    map[string]int64 `json:"usage"`
	Limits   map[string]int64 `json:"limits"`
	Remain   map[string]int64 `json:"remain"`
	ResetAt  string           `json:"resetAt"`
}
