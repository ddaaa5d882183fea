package flowfilter

import (
	"fmt"
	"net"
	"strings"

	"github.com/bwNetFlow/flowfilter/parser"
	flow "github.com/bwNetFlow/protobuf/go"
)

// Matcher evaluates parsed flowfilter expressions against flow messages. The
// visitors shipped with the flowfilter module work on a different message
// type, this one works on the message used throughout this pipeline. BGP
// matches (passes-through, med, localpref, rpki) have no data in these
// messages and yield an error.
//
// A Matcher keeps per-call state and is not safe for concurrent use.
type Matcher struct {
	flowmsg *flow.FlowMessage
}

// CheckFlow returns whether msg matches expr.
func (f *Matcher) CheckFlow(expr *parser.Expression, msg *flow.FlowMessage) (bool, error) {
	f.flowmsg = msg
	err := parser.Visit(expr, f.Visit)
	return expr.EvalResult, err
}

func numericRange(node parser.NumericRange, compare uint64) (bool, error) {
	if node.Lower != nil && node.Upper != nil {
		if uint64(*node.Lower) > uint64(*node.Upper) {
			return false, fmt.Errorf("bad range, lower %d > upper %d", *node.Lower, *node.Upper)
		}
		return uint64(*node.Lower) <= compare && compare <= uint64(*node.Upper), nil
	}
	if node.Number == nil {
		return false, fmt.Errorf("empty range")
	}
	var unary string
	if node.Unary != nil {
		unary = string(*node.Unary)
	}
	switch unary {
	case "<":
		return compare < uint64(*node.Number), nil
	case ">":
		return compare > uint64(*node.Number), nil
	}
	return compare == uint64(*node.Number), nil
}

// sets the src and dst results of a range node
func directional(src *bool, dst *bool, node parser.NumericRange, srcValue uint64, dstValue uint64) error {
	var err error
	*src, err = numericRange(node, srcValue)
	if err != nil {
		return err
	}
	*dst, err = numericRange(node, dstValue)
	return err
}

func duration(msg *flow.FlowMessage) uint64 {
	if msg.TimeFlowEnd <= msg.TimeFlowStart {
		return 1
	}
	return msg.TimeFlowEnd - msg.TimeFlowStart
}

// Visit is the parser.Visit callback, results are computed after the
// children of a node are done.
func (f *Matcher) Visit(n parser.Node, next func() error) error {
	switch node := n.(type) {
	case *parser.PassesThroughListMatch, *parser.MedRangeMatch, *parser.LocalPrefRangeMatch, *parser.RpkiMatch:
		return fmt.Errorf("%T needs BGP data, which flows do not carry here", node)
	}
	if err := next(); err != nil {
		return err
	}

	msg := f.flowmsg
	var err error
	switch node := n.(type) {
	case *parser.Expression:
		switch {
		case node.Left == nil:
			node.EvalResult = true // empty filters match all flows
		case node.Conjunction == nil:
			node.EvalResult = node.Left.EvalResult
		case *node.Conjunction == "and":
			node.EvalResult = node.Left.EvalResult && node.Right.EvalResult
		case *node.Conjunction == "or":
			node.EvalResult = node.Left.EvalResult || node.Right.EvalResult
		}
	case *parser.Statement:
		switch {
		case node.DirectionalMatch != nil:
			node.EvalResult = node.DirectionalMatch.EvalResult
		case node.RegularMatch != nil:
			node.EvalResult = node.RegularMatch.EvalResult
		case node.SubExpression != nil:
			node.EvalResult = node.SubExpression.EvalResult
		}
		if node.Negated != nil && bool(*node.Negated) {
			node.EvalResult = !node.EvalResult
		}
	case *parser.DirectionalMatchGroup:
		var match *parser.BranchNode
		switch {
		case node.Address != nil:
			match = &node.Address.BranchNode
		case node.Interface != nil:
			match = &node.Interface.BranchNode
		case node.Port != nil:
			match = &node.Port.BranchNode
		case node.Asn != nil:
			match = &node.Asn.BranchNode
		case node.Netsize != nil:
			match = &node.Netsize.BranchNode
		case node.Cid != nil:
			match = &node.Cid.BranchNode
		case node.Vrf != nil:
			match = &node.Vrf.BranchNode
		default:
			return fmt.Errorf("empty directional match")
		}
		switch {
		case node.Direction == nil:
			node.EvalResult = match.EvalResult || match.EvalResultSrc || match.EvalResultDst
		case *node.Direction == "src":
			node.EvalResult = match.EvalResultSrc
		case *node.Direction == "dst":
			node.EvalResult = match.EvalResultDst
		}
	case *parser.RegularMatchGroup:
		switch {
		case node.Router != nil:
			node.EvalResult = node.Router.EvalResult
		case node.NextHop != nil:
			node.EvalResult = node.NextHop.EvalResult
		case node.NextHopAsn != nil:
			node.EvalResult = node.NextHopAsn.EvalResult
		case node.Bytes != nil:
			node.EvalResult = node.Bytes.EvalResult
		case node.Packets != nil:
			node.EvalResult = node.Packets.EvalResult
		case node.RemoteCountry != nil:
			node.EvalResult = node.RemoteCountry.EvalResult
		case node.FlowDirection != nil:
			node.EvalResult = node.FlowDirection.EvalResult
		case node.Normalized != nil:
			node.EvalResult = node.Normalized.EvalResult
		case node.Duration != nil:
			node.EvalResult = node.Duration.EvalResult
		case node.Etype != nil:
			node.EvalResult = node.Etype.EvalResult
		case node.Proto != nil:
			node.EvalResult = node.Proto.EvalResult
		case node.Status != nil:
			node.EvalResult = node.Status.EvalResult
		case node.TcpFlags != nil:
			node.EvalResult = node.TcpFlags.EvalResult
		case node.IPTos != nil:
			node.EvalResult = node.IPTos.EvalResult
		case node.Dscp != nil:
			node.EvalResult = node.Dscp.EvalResult
		case node.Ecn != nil:
			node.EvalResult = node.Ecn.EvalResult
		case node.SamplingRate != nil:
			node.EvalResult = node.SamplingRate.EvalResult
		case node.Icmp != nil:
			node.EvalResult = node.Icmp.EvalResult
		case node.Bps != nil:
			node.EvalResult = node.Bps.EvalResult
		case node.Pps != nil:
			node.EvalResult = node.Pps.EvalResult
		}

	case *parser.AddressMatch:
		if node.Mask != nil {
			bits := 128
			if node.Address.To4() != nil {
				bits = 32
			}
			ipnet := &net.IPNet{IP: *node.Address, Mask: net.CIDRMask(int(*node.Mask), bits)}
			node.EvalResultSrc = ipnet.Contains(msg.SrcAddr)
			node.EvalResultDst = ipnet.Contains(msg.DstAddr)
		} else {
			node.EvalResultSrc = net.IP(msg.SrcAddr).Equal(*node.Address)
			node.EvalResultDst = net.IP(msg.DstAddr).Equal(*node.Address)
		}
	case *parser.InterfaceMatch:
		switch {
		case node.SnmpId != nil:
			node.EvalResultSrc = uint32(*node.SnmpId) == msg.InIf
			node.EvalResultDst = uint32(*node.SnmpId) == msg.OutIf
		case node.Name != nil:
			node.EvalResultSrc = containsFold(msg.SrcIfName, string(*node.Name))
			node.EvalResultDst = containsFold(msg.DstIfName, string(*node.Name))
		case node.Description != nil:
			node.EvalResultSrc = containsFold(msg.SrcIfDesc, string(*node.Description))
			node.EvalResultDst = containsFold(msg.DstIfDesc, string(*node.Description))
		case node.Speed != nil:
			node.EvalResultSrc = node.Speed.EvalResultSrc
			node.EvalResultDst = node.Speed.EvalResultDst
		}
	case *parser.IfSpeedRangeMatch:
		err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.SrcIfSpeed)/1000, uint64(msg.DstIfSpeed)/1000)
	case *parser.PortRangeMatch:
		err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.SrcPort), uint64(msg.DstPort))
	case *parser.AsnRangeMatch:
		err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.SrcAS), uint64(msg.DstAS))
	case *parser.NetsizeRangeMatch:
		err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.SrcNet), uint64(msg.DstNet))
	case *parser.VrfRangeMatch:
		err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.IngressVrfID), uint64(msg.EgressVrfID))
	case *parser.CidRangeMatch:
		if node.EvalResult, err = numericRange(node.NumericRange, uint64(msg.Cid)); err == nil {
			err = directional(&node.EvalResultSrc, &node.EvalResultDst, node.NumericRange, uint64(msg.SrcCid), uint64(msg.DstCid))
		}

	case *parser.RouterMatch:
		node.EvalResult = net.IP(msg.SamplerAddress).Equal(*node.Address)
	case *parser.NextHopMatch:
		node.EvalResult = net.IP(msg.NextHop).Equal(*node.Address)
	case *parser.NextHopAsnMatch:
		node.EvalResult = msg.NextHopAS == *node.Asn
	case *parser.ByteRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.Bytes)
	case *parser.PacketRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.Packets)
	case *parser.RemoteCountryMatch:
		node.EvalResult = strings.Contains(msg.RemoteCountry, strings.ToUpper(string(*node.CountryCode)))
	case *parser.FlowDirectionMatch:
		switch *node.FlowDirection {
		case "incoming":
			node.EvalResult = msg.FlowDirection == 0
		case "outgoing":
			node.EvalResult = msg.FlowDirection == 1
		}
	case *parser.NormalizedMatch:
		node.EvalResult = int32(msg.Normalized) == 1
	case *parser.DurationRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.TimeFlowEnd-msg.TimeFlowStart)
	case *parser.EtypeMatch:
		node.EvalResult = equals(msg.Etype, node.Etype, (*parser.Number)(node.EtypeKey))
	case *parser.ProtoMatch:
		node.EvalResult = equals(msg.Proto, node.Proto, (*parser.Number)(node.ProtoKey))
	case *parser.StatusMatch:
		switch {
		case node.Status != nil:
			node.EvalResult = msg.ForwardingStatus == uint32(*node.Status)
		case node.StatusKey != nil:
			node.EvalResult = msg.ForwardingStatus&uint32(*node.StatusKey) == uint32(*node.StatusKey)
		}
	case *parser.TcpFlagsMatch:
		switch {
		case msg.Proto != 6:
			node.EvalResult = false
		case node.TcpFlags != nil:
			node.EvalResult = msg.TCPFlags == uint32(*node.TcpFlags)
		case node.TcpFlagsKey != nil:
			node.EvalResult = msg.TCPFlags&uint32(*node.TcpFlagsKey) == uint32(*node.TcpFlagsKey)
		}
	case *parser.IPTosRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, uint64(msg.IPTos))
	case *parser.DscpMatch:
		node.EvalResult = equals(msg.IPTos>>2, node.Dscp, (*parser.Number)(node.DscpKey))
	case *parser.EcnMatch:
		node.EvalResult = equals(msg.IPTos&0b11, node.Ecn, (*parser.Number)(node.EcnKey))
	case *parser.SamplingRateRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.SamplingRate)
	case *parser.IcmpMatch:
		switch {
		case msg.Proto != 1:
			node.EvalResult = false
		case node.Type != nil:
			node.EvalResult = uint32(*node.Type) == msg.DstPort/256
		case node.Code != nil:
			node.EvalResult = uint32(*node.Code) == msg.DstPort%256
		}
	case *parser.BpsRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.Bytes*8/duration(msg))
	case *parser.PpsRangeMatch:
		node.EvalResult, err = numericRange(node.NumericRange, msg.Packets/duration(msg))
	}
	return err
}

func equals(value uint32, number *parser.Number, key *parser.Number) bool {
	switch {
	case number != nil:
		return value == uint32(*number)
	case key != nil:
		return value == uint32(*key)
	}
	return false
}

func containsFold(s string, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
