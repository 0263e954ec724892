package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ExchangeABI covers the events of the batch exchange contract.
const ExchangeABI = `[
  {"type":"event","name":"TokenListing","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":false},
    {"name":"id","type":"uint16","indexed":false}]},
  {"type":"event","name":"OrderPlacement","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"index","type":"uint16","indexed":false},
    {"name":"buyToken","type":"uint16","indexed":true},
    {"name":"sellToken","type":"uint16","indexed":true},
    {"name":"validFrom","type":"uint32","indexed":false},
    {"name":"validUntil","type":"uint32","indexed":false},
    {"name":"priceNumerator","type":"uint128","indexed":false},
    {"name":"priceDenominator","type":"uint128","indexed":false}]},
  {"type":"event","name":"OrderCancellation","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"id","type":"uint16","indexed":false}]},
  {"type":"event","name":"OrderDeletion","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"id","type":"uint16","indexed":false}]},
  {"type":"event","name":"Deposit","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"batchId","type":"uint32","indexed":false}]},
  {"type":"event","name":"WithdrawRequest","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"batchId","type":"uint32","indexed":false}]},
  {"type":"event","name":"Withdraw","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"Trade","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"orderId","type":"uint16","indexed":true},
    {"name":"sellToken","type":"uint16","indexed":true},
    {"name":"buyToken","type":"uint16","indexed":false},
    {"name":"executedSellAmount","type":"uint128","indexed":false},
    {"name":"executedBuyAmount","type":"uint128","indexed":false}]},
  {"type":"event","name":"TradeReversion","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"orderId","type":"uint16","indexed":true},
    {"name":"sellToken","type":"uint16","indexed":true},
    {"name":"buyToken","type":"uint16","indexed":false},
    {"name":"executedSellAmount","type":"uint128","indexed":false},
    {"name":"executedBuyAmount","type":"uint128","indexed":false}]},
  {"type":"event","name":"SolutionSubmission","anonymous":false,"inputs":[
    {"name":"submitter","type":"address","indexed":true},
    {"name":"utility","type":"uint256","indexed":false},
    {"name":"disregardedUtility","type":"uint256","indexed":false},
    {"name":"burntFees","type":"uint256","indexed":false},
    {"name":"lastAuctionBurntFees","type":"uint256","indexed":false},
    {"name":"prices","type":"uint128[]","indexed":false},
    {"name":"tokenIdsForPrice","type":"uint16[]","indexed":false}]},
  {"type":"event","name":"SolutionReversion","anonymous":false,"inputs":[
    {"name":"submitter","type":"address","indexed":true},
    {"name":"burntFees","type":"uint256","indexed":false}]}
]`

// ViewerABI covers the paginated order book read of the viewer contract.
const ViewerABI = `[
  {"type":"function","name":"getOpenOrderBookPaginated","stateMutability":"view","inputs":[
    {"name":"tokenFilter","type":"address[]"},
    {"name":"previousPageUser","type":"address"},
    {"name":"previousPageUserOffset","type":"uint16"},
    {"name":"pageSize","type":"uint16"}],
   "outputs":[
    {"name":"elements","type":"bytes"},
    {"name":"hasNextPage","type":"bool"},
    {"name":"nextPageUser","type":"address"},
    {"name":"nextPageUserOffset","type":"uint16"}]}
]`

var (
	exchangeABI = mustParseABI(ExchangeABI)
	viewerABI   = mustParseABI(ViewerABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
