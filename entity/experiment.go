package entity

import "time"

const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// NoParamsID 表示该方法或数据集没有参数，因此没有对应的参数表。
const NoParamsID int64 = -1

// Experiment 是 experiment_list 中的一行。
type Experiment struct {
	ID             int64      `gorm:"column:id" json:"id"`
	Remark         *string    `gorm:"column:remark" json:"remark"`
	Description    *string    `gorm:"column:description" json:"description"`
	Method         string     `gorm:"column:method" json:"method"`
	MethodID       int64      `gorm:"column:method_id" json:"method_id"`
	Data           string     `gorm:"column:data" json:"data"`
	DataID         int64      `gorm:"column:data_id" json:"data_id"`
	Task           string     `gorm:"column:task" json:"task"`
	Tags           *string    `gorm:"column:tags" json:"tags"`                   // tag1,tag2,...
	Experimenters  *string    `gorm:"column:experimenters" json:"experimenters"` // name1,name2,...
	StartTime      *time.Time `gorm:"column:start_time" json:"start_time"`
	EndTime        *time.Time `gorm:"column:end_time" json:"end_time"`
	UsefulTimeCost *float64   `gorm:"column:useful_time_cost" json:"useful_time_cost"`
	TotalTimeCost  *float64   `gorm:"column:total_time_cost" json:"total_time_cost"` // 计算列，只读
	Status         string     `gorm:"column:status" json:"status"`
	FailedReason   *string    `gorm:"column:failed_reason" json:"failed_reason"`
}

// StartParams 是开启一次实验时写入台账的信息。
type StartParams struct {
	Description   string
	Method        string
	MethodID      int64
	Data          string
	DataID        int64
	Task          string
	StartTime     *time.Time
	Tags          string
	Experimenters string
}
