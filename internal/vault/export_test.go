package vault

var EffectiveTTL = effectiveTTL
