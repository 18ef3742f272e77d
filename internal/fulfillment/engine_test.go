package fulfillment

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/domain/order"
)

func testEngine() *Engine {
	return NewEngine("https://shop.example.com", time.Hour, []byte("test-signing-key"))
}

func TestFulfillDownloadItem(t *testing.T) {
	e := testEngine()

	grant, err := e.Fulfill("order-1", "ORD-3F2A91BC", order.Item{
		ID:       "item-1",
		Delivery: order.DeliveryDownload,
	})
	require.NoError(t, err)
	require.Len(t, grant.DownloadLinks, 1)
	assert.Empty(t, grant.LicenseKey)

	link := grant.DownloadLinks[0]
	assert.True(t, strings.HasPrefix(link.URL, "https://shop.example.com/downloads/order-1/item-1?"))

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, link.ExpiresAt.Unix(), expires)
	assert.True(t, e.Verify("order-1", "item-1", expires, u.Query().Get("sig")))
}

func TestFulfillLicensedItem(t *testing.T) {
	e := testEngine()

	grant, err := e.Fulfill("order-1", "ORD-3F2A91BC", order.Item{
		ID:       "item-2",
		Delivery: order.DeliveryLicense,
		Licensed: true,
	})
	require.NoError(t, err)
	assert.Empty(t, grant.DownloadLinks)
	assert.True(t, strings.HasPrefix(grant.LicenseKey, "LIC-ORD3F2A91BC-"))
}

func TestFulfillMembershipItem(t *testing.T) {
	e := testEngine()

	grant, err := e.Fulfill("order-1", "ORD-3F2A91BC", order.Item{
		ID:       "item-3",
		Delivery: order.DeliveryMembership,
	})
	require.NoError(t, err)
	assert.Empty(t, grant.DownloadLinks)
	assert.Empty(t, grant.LicenseKey)
}

func TestVerifyRejectsTamperedAndExpired(t *testing.T) {
	e := testEngine()

	grant, err := e.Fulfill("order-1", "ORD-3F2A91BC", order.Item{ID: "item-1", Delivery: order.DeliveryDownload})
	require.NoError(t, err)

	u, err := url.Parse(grant.DownloadLinks[0].URL)
	require.NoError(t, err)
	expires, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	sig := u.Query().Get("sig")

	assert.False(t, e.Verify("order-1", "other-item", expires, sig), "signature must bind the item")
	assert.False(t, e.Verify("order-1", "item-1", expires+60, sig), "signature must bind the expiry")
	assert.False(t, e.Verify("order-1", "item-1", expires, sig[:len(sig)-2]+"ff"))

	e.now = func() time.Time { return time.Unix(expires, 0).Add(time.Minute) }
	assert.False(t, e.Verify("order-1", "item-1", expires, sig))
}

func TestLicenseKeysAreUnique(t *testing.T) {
	e := testEngine()
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		grant, err := e.Fulfill("order-1", "ORD-AAAA1111", order.Item{ID: "item", Licensed: true})
		require.NoError(t, err)
		_, dup := seen[grant.LicenseKey]
		assert.False(t, dup)
		seen[grant.LicenseKey] = struct{}{}
	}
}
