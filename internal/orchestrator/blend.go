package orchestrator

import (
	"fmt"

	"intelligent-router/internal/contract"
	"intelligent-router/internal/successrate"
)

// Blender combines a success-rate estimate and a contract boost into one score.
// Higher scores are routed first.
type Blender interface {
	Blend(rate successrate.Rate, boost contract.Boost) float64
}

// BlenderFunc adapts a function to Blender
type BlenderFunc func(rate successrate.Rate, boost contract.Boost) float64

func (f BlenderFunc) Blend(rate successrate.Rate, boost contract.Boost) float64 {
	return f(rate, boost)
}

// Default blend weights
const (
	DefaultSuccessWeight  = 1.0
	DefaultContractWeight = 0.2
)

// WeightedBlender adds the contract boost to the success rate, each scaled by its weight
type WeightedBlender struct {
	SuccessWeight  float64 `json:"success_weight"`
	ContractWeight float64 `json:"contract_weight"`
}

// NewWeightedBlender creates a blender with validated weights
func NewWeightedBlender(successWeight, contractWeight float64) (WeightedBlender, error) {
	if successWeight < 0 || contractWeight < 0 {
		return WeightedBlender{}, fmt.Errorf("blend weights must not be negative")
	}
	if successWeight == 0 && contractWeight == 0 {
		return WeightedBlender{}, fmt.Errorf("at least one blend weight must be positive")
	}
	return WeightedBlender{SuccessWeight: successWeight, ContractWeight: contractWeight}, nil
}

func (b WeightedBlender) Blend(rate successrate.Rate, boost contract.Boost) float64 {
	return rate.Probability*b.SuccessWeight + boost.Value*b.ContractWeight
}
