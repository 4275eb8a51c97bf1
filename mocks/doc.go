package mocks

//go:generate mockgen -destination=pricefeed.go -package=mocks github.com/umee-network/fundme/ledger PriceFeed,Bank
