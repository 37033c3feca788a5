package entity

// Setting 唯一确定一组“相同设置”的实验。
type Setting struct {
	Task     string `json:"task" form:"task"`
	Method   string `json:"method" form:"method"`
	MethodID int64  `json:"method_id" form:"method_id"`
	Data     string `json:"data" form:"data"`
	DataID   int64  `json:"data_id" form:"data_id"`
}

// MetricStatistics 是单个指标在同设置实验上的统计量。
type MetricStatistics struct {
	Metric string  `json:"metric"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ResultStatistics 汇总一组设置下所有数值指标的统计结果。
type ResultStatistics struct {
	Setting Setting            `json:"setting"`
	Records int                `json:"records"`
	Metrics []MetricStatistics `json:"metrics"`
}

// ExperimentDetail 汇总一次实验在各张表中的信息。
type ExperimentDetail struct {
	Experiment *Experiment    `json:"experiment"`
	Method     map[string]any `json:"method,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Result     *ResultRecord  `json:"result,omitempty"`
	Details    *ResultSet     `json:"details,omitempty"`
}
