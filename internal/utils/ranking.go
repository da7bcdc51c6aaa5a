package utils

import (
	"math"
	"time"
)

// HeatConfig 热度计算参数
type HeatConfig struct {
	Gravity       float64 // 时间重力 (1.5)
	WeightScore   float64 // 1.0
	WeightComment float64 // 2.0
	ScaleFactor   float64 // 放大系数 (100)
}

var DefaultHeat = HeatConfig{
	Gravity:       1.5,
	WeightScore:   1.0,
	WeightComment: 2.0,
	ScaleFactor:   100.0, // 让分数落在 0-100 区间，像"温度"
}

// PostHeat 根据发帖时间和互动量计算热度
// 评论权重高于得分：评论代表更强的参与度
func PostHeat(created time.Time, score, comments int) float64 {
	hours := time.Since(created).Hours()
	if hours < 0 {
		hours = 0
	}

	weightedSum := float64(score)*DefaultHeat.WeightScore +
		float64(comments)*DefaultHeat.WeightComment

	// Reddit 的 score 可能为负，防止负数无法取对数
	if weightedSum < 0 {
		weightedSum = 0
	}

	// 对数平滑
	// log10(sum + 1) -> 确保 sum=0 时结果为 0
	logScore := math.Log10(weightedSum + 1)

	// 时间衰减 (分母)
	decay := math.Pow(hours+2, DefaultHeat.Gravity)

	return logScore * DefaultHeat.ScaleFactor / decay
}
