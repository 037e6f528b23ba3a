package booking

import (
	"context"
	"fmt"
	"time"

	"staywatch/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FeedClient 预订日历拉取客户端
// 只读外部协作方：list_bookings(property_id, time_range)，轮询而非推送
type FeedClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewFeedClient 创建日历拉取客户端
func NewFeedClient(baseURL string, logger *zap.Logger) *FeedClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Accept", "application/json")

	return &FeedClient{
		httpClient: client,
		logger:     logger,
	}
}

// feedResponse 日历 API 响应
type feedResponse struct {
	Bookings []models.Booking `json:"bookings"`
}

// ListBookings 拉取站点在时间区间内的预订（按开始时间升序）
func (c *FeedClient) ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]models.Booking, error) {
	var response feedResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("property_id", propertyID).
		SetQueryParam("from", from.Format(time.RFC3339)).
		SetQueryParam("to", to.Format(time.RFC3339)).
		SetResult(&response).
		Get("/bookings")

	if err != nil {
		return nil, fmt.Errorf("failed to call booking feed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("booking feed returned status %d", resp.StatusCode())
	}

	models.SortBookings(response.Bookings)
	return response.Bookings, nil
}
