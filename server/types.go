package server

import (
	"github.com/high-horse/similarity-server/compare"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/policy"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type CompareRequest struct {
	Image1 string `json:"image1"`
	Image2 string `json:"image2"`
}

type DetectRequest struct {
	Image string `json:"image"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

type CompareResponse struct {
	Similarity      float64          `json:"similarity"`
	Match           bool             `json:"match"`
	ConfidenceLevel policy.Label     `json:"confidence_level"`
	Message         string           `json:"message"`
	AnalysisType    compare.Mode     `json:"analysis_type"`
	ComparisonType  string           `json:"comparison_type"`
	ProcessingTime  float64          `json:"processing_time_ms"`
	AnalysisDetails *AnalysisDetails `json:"analysis_details,omitempty"`
	Status          string           `json:"status"`
	Error           string           `json:"error,omitempty"`
}

type AnalysisDetails struct {
	Interpretation string               `json:"interpretation"`
	MatchThreshold float64              `json:"match_threshold"`
	Methods        []policy.Estimate    `json:"methods"`
	Weights        map[string]float64   `json:"weights"`
	Failures       map[string]string    `json:"failures,omitempty"`
	FacesDetected  [2]int               `json:"faces_detected"`
	Images         [2]compare.ImageInfo `json:"images"`
}

type DetectResponse struct {
	Status         string            `json:"status"`
	PrimaryType    string            `json:"primary_type"`
	Detected       Detected          `json:"detected"`
	ProcessingTime float64           `json:"processing_time_ms"`
	Failures       map[string]string `json:"failures,omitempty"`
}

type Detected struct {
	Faces   []FaceBox       `json:"faces"`
	Pets    []extract.Label `json:"pets"`
	Objects []extract.Label `json:"objects"`
	Labels  []extract.Label `json:"labels"`
}

type FaceBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	Timestamp   string          `json:"timestamp"`
	VisionAPI   bool            `json:"vision_api"`
	FaceEncoder bool            `json:"face_encoder"`
	FaceLocator bool            `json:"face_locator"`
	Embedding   bool            `json:"embedding"`
	Backends    map[string]bool `json:"backends"`
	Decoders    []string        `json:"decoders"`
}
