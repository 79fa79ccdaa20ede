package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CBRClient handles integration with Central Bank of Russia
type CBRClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
	now     func() time.Time
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(url string, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cbr",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		}),
		log: log,
		now: time.Now,
	}
}

// buildSOAPRequest creates a SOAP request for the key rate of the last 30 days
func (c *CBRClient) buildSOAPRequest() string {
	now := c.now()
	fromDate := now.AddDate(0, 0, -30).Format("2006-01-02")
	toDate := now.Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("CBR XML response: %s", string(body))
	return body, nil
}

// parseXMLResponse extracts the latest key rate, in percent
func parseXMLResponse(rawBody []byte) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %w", err)
	}

	krElements := doc.FindElements("//diffgram/KeyRate/KR")
	if len(krElements) == 0 {
		return decimal.Zero, fmt.Errorf("no key rate data found in XML")
	}

	// the service lists the newest rate first
	rateElement := krElements[0].FindElement("./Rate")
	if rateElement == nil {
		return decimal.Zero, fmt.Errorf("rate element not found in XML")
	}

	rate, err := decimal.NewFromString(rateElement.Text())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate %q: %w", rateElement.Text(), err)
	}
	return rate, nil
}

// GetKeyRate retrieves the current key rate in percent
func (c *CBRClient) GetKeyRate(ctx context.Context) (decimal.Decimal, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.sendRequest(ctx, c.buildSOAPRequest())
		if err != nil {
			return nil, err
		}
		return parseXMLResponse(body)
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to retrieve key rate")
		return decimal.Zero, err
	}

	rate := out.(decimal.Decimal)
	c.log.Infof("Retrieved key rate: %s%%", rate.String())
	return rate, nil
}
