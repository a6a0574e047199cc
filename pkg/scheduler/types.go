package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobConfig 定义单个采集任务的配置
type JobConfig struct {
	Name        string `yaml:"name" json:"name" mapstructure:"name"`
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Schedule    string `yaml:"schedule" json:"schedule" mapstructure:"schedule"`
	RangeID     string `yaml:"range" json:"range" mapstructure:"range"`
	Environment string `yaml:"environment" json:"environment" mapstructure:"environment"`
}

// JobsConfig 定义整个任务配置文件结构
type JobsConfig struct {
	Jobs []JobConfig `yaml:"jobs" json:"jobs" mapstructure:"jobs"`
}

// Job 表示一个运行中的任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusError    JobStatus = "error"
	JobStatusDisabled JobStatus = "disabled"
)

// JobExecutor 任务执行器接口
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}
