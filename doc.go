// Package anyloss implements reinforcement-learning objectives on top
// of the anydiff automatic differentiation stack.
//
// The root package provides the shared machinery the objectives are
// built from: a keyed trajectory container (Record), functional
// network modules whose forward pass can be evaluated against an
// explicitly supplied parameter set (Module, FuncNet), target-network
// bookkeeping (TargetParams) with hard and soft synchronization
// (HardUpdater, SoftUpdater), and the n-step return rewrite
// (MultiStep).
//
// The actual objectives live in sub-packages: anyq for value-based
// losses (DQN and its distributional variant), anyac for continuous
// actor-critic losses (DDPG, SAC, REDQ), and anypg for policy
// gradients (PPO and REINFORCE, plus generalized advantage
// estimation).
package anyloss
