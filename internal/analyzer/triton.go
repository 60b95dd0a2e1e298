package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Trendyol/go-triton-client/base"
	tritonGrpc "github.com/Trendyol/go-triton-client/client/grpc"
	"github.com/sirupsen/logrus"

	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/pkg/log"
)

// Triton sends encoded frames to a Triton model that returns DETECTIONS with
// shape [N, 6]: x1, y1, x2, y2, confidence, behavior class id.
type Triton struct {
	client       base.Client
	modelName    string
	modelVersion string
	labels       map[int]string
	timeout      time.Duration
	logger       *logrus.Entry
}

func NewTriton(conf config.TritonConfig) (*Triton, error) {
	client, err := tritonGrpc.NewClient(
		conf.ServerAddr,
		false, // verbose logging
		30,    // connection timeout in seconds
		30,    // network timeout in seconds
		false, // use ssl
		true,  // insecure connection
		nil,   // existing grpc connection
		nil,   // logger
	)
	if err != nil {
		return nil, fmt.Errorf("create triton client: %w", err)
	}
	version := conf.ModelVersion
	if version == "" {
		version = "1"
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Triton{
		client:       client,
		modelName:    conf.ModelName,
		modelVersion: version,
		labels:       conf.Labels,
		timeout:      timeout,
		logger:       log.ComponentLogger("analyzer").WithField("model", conf.ModelName),
	}, nil
}

// Ready checks that the server and the model can serve requests.
func (t *Triton) Ready(ctx context.Context) error {
	if isLive, err := t.client.IsServerLive(ctx, nil); err != nil {
		return err
	} else if !isLive {
		return errors.New("triton server is not live")
	}

	if isReady, err := t.client.IsServerReady(ctx, nil); err != nil {
		return err
	} else if !isReady {
		return errors.New("triton server is not ready")
	}

	if isReady, err := t.client.IsModelReady(ctx, t.modelName, t.modelVersion, nil); err != nil {
		return err
	} else if !isReady {
		return fmt.Errorf("triton model %s is not ready", t.modelName)
	}
	return nil
}

func (t *Triton) Analyze(ctx context.Context, frame []byte) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	frameInput := tritonGrpc.NewInferInput("FRAME", "BYTES", []int64{int64(len(frame))}, nil)
	if err := frameInput.SetData(frame, true); err != nil {
		return Err(fmt.Errorf("set FRAME input data: %v", err))
	}
	frameInput.SetDatatype("UINT8")

	outputs := []base.InferOutput{
		tritonGrpc.NewInferOutput("DETECTIONS", map[string]any{"binary_data": false}),
	}

	response, err := t.client.Infer(ctx, t.modelName, t.modelVersion, []base.InferInput{frameInput}, outputs, nil)
	if err != nil {
		return Err(fmt.Errorf("inference: %v", err))
	}

	detections, err := response.AsFloat32Slice("DETECTIONS")
	if err != nil {
		return Err(fmt.Errorf("read DETECTIONS: %v", err))
	}

	analysis := ParseDetections(detections, t.labels)
	analysis.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return Ok(analysis)
}

// ParseDetections turns a flat [N*6] detection tensor into an AnalysisResult.
// Rows whose class id has no label are skipped. Confidence is the highest
// score among suspicious people, or among all people when nobody is
// suspicious.
func ParseDetections(detections []float32, labels map[int]string) dao.AnalysisResult {
	res := dao.NeutralAnalysis()
	var maxAll, maxSuspicious float32
	for i := 0; i+5 < len(detections); i += 6 {
		classID := int(detections[i+5])
		label, ok := labels[classID]
		if !ok || label == "" {
			continue
		}
		confidence := detections[i+4]

		res.Boxes = append(res.Boxes, dao.Box{
			int(detections[i]),
			int(detections[i+1]),
			int(detections[i+2]),
			int(detections[i+3]),
		})
		res.Behaviors = append(res.Behaviors, fmt.Sprintf("Person %d: %s", len(res.Boxes), label))

		if confidence > maxAll {
			maxAll = confidence
		}
		if label != dao.BehaviorNormal {
			res.BehaviorDetected = true
			if confidence > maxSuspicious {
				maxSuspicious = confidence
			}
		}
	}
	res.PeopleCount = len(res.Boxes)
	if res.BehaviorDetected {
		res.Confidence = float64(maxSuspicious)
	} else {
		res.Confidence = float64(maxAll)
	}
	return res
}
