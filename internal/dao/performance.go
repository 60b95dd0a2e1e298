package dao

type AlertsQuery struct {
	Limit int `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

type TrendsQuery struct {
	Hours float64 `form:"hours" binding:"omitempty,gt=0"`
}

type ConfidenceResponse struct {
	Confidence int `json:"confidence"`
}
